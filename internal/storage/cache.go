package storage

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/dreamreel-api/internal/apperr"
	"github.com/maauso/dreamreel-api/internal/job/id"
)

// ErrArtifactNotFound is returned when no artifact is stored for a job id.
var ErrArtifactNotFound = errors.New("storage: artifact not found")

// Metadata keys written with every artifact.
const (
	MetaJobID       = "job-id"
	MetaContentType = metaContentType
	MetaSize        = "size"
	MetaUploadedAt  = "uploaded-at"
)

const (
	// DefaultNamespace is the key prefix used for video artifacts.
	DefaultNamespace = "videos"
	// DefaultURLPrefix is the path under which cached artifacts are served.
	DefaultURLPrefix = "/cache"
)

// Artifact is a stored result for one job.
type Artifact struct {
	JobID       string
	Data        []byte
	Size        int64
	ContentType string
	UploadedAt  time.Time
}

// CacheOption configures an ArtifactCache.
type CacheOption func(*ArtifactCache)

// WithNamespace sets the key prefix. Distinct namespaces never collide in a
// shared store.
func WithNamespace(ns string) CacheOption {
	return func(c *ArtifactCache) {
		c.namespace = strings.Trim(ns, "/")
	}
}

// WithURLPrefix sets the path prefix of returned locator URLs.
func WithURLPrefix(prefix string) CacheOption {
	return func(c *ArtifactCache) {
		c.urlPrefix = strings.TrimRight(prefix, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *ArtifactCache) {
		c.logger = l
	}
}

// WithClock overrides the time source used for upload timestamps.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ArtifactCache) {
		c.now = now
	}
}

// ArtifactCache stores one artifact per job id in a BlobStore namespace.
type ArtifactCache struct {
	store     BlobStore
	namespace string
	urlPrefix string
	logger    *slog.Logger
	now       func() time.Time
}

// NewArtifactCache creates a cache over store.
func NewArtifactCache(store BlobStore, opts ...CacheOption) *ArtifactCache {
	c := &ArtifactCache{
		store:     store,
		namespace: DefaultNamespace,
		urlPrefix: DefaultURLPrefix,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Namespace returns the key prefix.
func (c *ArtifactCache) Namespace() string {
	return c.namespace
}

// URL returns the locator URL for jobID.
func (c *ArtifactCache) URL(jobID string) string {
	return c.urlPrefix + "/" + jobID
}

// Put stores data under jobID, replacing any previous artifact, and returns
// its locator URL. Store failures are returned as storage errors and are not
// retried here.
func (c *ArtifactCache) Put(ctx context.Context, jobID string, data []byte, contentType string) (string, error) {
	if err := id.Validate(jobID); err != nil {
		return "", err
	}

	meta := Metadata{
		MetaJobID:       jobID,
		MetaContentType: contentType,
		MetaSize:        strconv.Itoa(len(data)),
		MetaUploadedAt:  c.now().UTC().Format(time.RFC3339),
	}

	if err := c.store.Put(ctx, c.key(jobID), data, meta); err != nil {
		return "", apperr.Storage(apperr.CodeStorageWrite, "store artifact", err)
	}

	c.logger.Info("artifact stored",
		"job_id", jobID,
		"namespace", c.namespace,
		"size", len(data),
	)
	return c.URL(jobID), nil
}

// Get returns the bytes stored under jobID, or ErrArtifactNotFound.
func (c *ArtifactCache) Get(ctx context.Context, jobID string) ([]byte, error) {
	a, err := c.GetArtifact(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}

// GetArtifact returns the artifact and its metadata, or ErrArtifactNotFound.
func (c *ArtifactCache) GetArtifact(ctx context.Context, jobID string) (*Artifact, error) {
	if err := id.Validate(jobID); err != nil {
		return nil, err
	}

	data, meta, err := c.store.Get(ctx, c.key(jobID))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, ErrArtifactNotFound
		}
		return nil, apperr.Storage(apperr.CodeStorageRead, "read artifact", err)
	}

	a := &Artifact{
		JobID:       jobID,
		Data:        data,
		Size:        int64(len(data)),
		ContentType: meta[MetaContentType],
	}
	if owner := meta[MetaJobID]; owner != "" {
		a.JobID = owner
	}
	if ts, err := time.Parse(time.RFC3339, meta[MetaUploadedAt]); err == nil {
		a.UploadedAt = ts
	}
	return a, nil
}

// Exists reports whether an artifact is stored for jobID. Only metadata is
// read. A failed Head or a malformed id is reported as false.
func (c *ArtifactCache) Exists(ctx context.Context, jobID string) bool {
	if !id.Valid(jobID) {
		return false
	}

	_, err := c.store.Head(ctx, c.key(jobID))
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrBlobNotFound) {
		c.logger.Warn("artifact existence check failed",
			"job_id", jobID,
			"namespace", c.namespace,
			"error", err,
		)
	}
	return false
}

// List returns the job ids of every stored artifact.
func (c *ArtifactCache) List(ctx context.Context) ([]string, error) {
	prefix := c.namespace + "/"
	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, apperr.Storage(apperr.CodeStorageList, "list artifacts", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, prefix)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// key is only called with validated ids, so jobID cannot escape the namespace.
func (c *ArtifactCache) key(jobID string) string {
	return path.Join(c.namespace, jobID)
}
