package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// metaSuffix marks the sidecar file that holds a blob's metadata.
const metaSuffix = ".meta.json"

// ErrInvalidKey is returned for empty keys or keys escaping the store root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Compile-time check that LocalBlobStore implements BlobStore.
var _ BlobStore = (*LocalBlobStore)(nil)

// LocalBlobStore implements BlobStore on local disk.
// Each blob is a file under the root directory; its metadata lives in a
// JSON sidecar so Head never opens the body.
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates a new LocalBlobStore rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dreamreel")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalBlobStore{root: dir}, nil
}

// Root returns the storage directory path.
func (s *LocalBlobStore) Root() string {
	return s.root
}

// Put writes data and its metadata sidecar. Both files are written to a
// temporary name first and renamed into place, so readers never observe a
// partial body.
func (s *LocalBlobStore) Put(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}

	if meta == nil {
		meta = Metadata{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(path+metaSuffix, metaBytes); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// Get reads a blob and its metadata.
func (s *LocalBlobStore) Get(ctx context.Context, key string) ([]byte, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("context cancelled: %w", err)
	}

	path, err := s.pathFor(key)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is sanitised by pathFor
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}

	meta, err := readMeta(path)
	if err != nil && !errors.Is(err, ErrBlobNotFound) {
		return nil, nil, err
	}
	return data, meta, nil
}

// Head reads only the metadata sidecar.
func (s *LocalBlobStore) Head(ctx context.Context, key string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	return readMeta(path)
}

// List walks the store and returns keys starting with prefix, sorted.
func (s *LocalBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context cancelled: %w", ctxErr)
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// pathFor maps a key to a file path inside the root.
func (s *LocalBlobStore) pathFor(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasSuffix(cleaned, metaSuffix) {
		return "", fmt.Errorf("%w: reserved suffix in %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func readMeta(blobPath string) (Metadata, error) {
	raw, err := os.ReadFile(blobPath + metaSuffix) // #nosec G304 - path is sanitised by pathFor
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	meta := Metadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// writeAtomic writes data to a temp file in the target directory and renames it.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
