package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func newTestS3Store(t *testing.T, handler http.HandlerFunc) *S3BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewS3BlobStore(S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	})
	if err != nil {
		t.Fatalf("NewS3BlobStore() error = %v", err)
	}
	return store
}

func TestNewS3BlobStore(t *testing.T) {
	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:4566", // LocalStack-like endpoint
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	store, err := NewS3BlobStore(cfg)
	if err != nil {
		t.Fatalf("NewS3BlobStore() error = %v", err)
	}

	if store.Bucket() != cfg.Bucket {
		t.Errorf("bucket = %v, want %v", store.Bucket(), cfg.Bucket)
	}
	if store.region != cfg.Region {
		t.Errorf("region = %v, want %v", store.region, cfg.Region)
	}
}

func TestS3BlobStore_Put(t *testing.T) {
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		if r.URL.Path != "/test-bucket/videos/video_ab12cd34ef" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "video/mp4" {
			t.Errorf("Content-Type = %q, want video/mp4", got)
		}
		if got := r.Header.Get("X-Amz-Meta-Job-Id"); got != "video_ab12cd34ef" {
			t.Errorf("job-id metadata = %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "test content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	})

	meta := Metadata{"content-type": "video/mp4", "job-id": "video_ab12cd34ef"}
	err := store.Put(context.Background(), "videos/video_ab12cd34ef", []byte("test content"), meta)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func TestS3BlobStore_Get(t *testing.T) {
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/test-bucket/videos/present":
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("X-Amz-Meta-Size", "5")
			_, _ = w.Write([]byte("bytes"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	})

	ctx := context.Background()

	data, meta, err := store.Get(ctx, "videos/present")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "bytes" {
		t.Errorf("Get() data = %q, want %q", data, "bytes")
	}
	if meta["size"] != "5" {
		t.Errorf("Get() size metadata = %q, want %q", meta["size"], "5")
	}

	if _, _, err := store.Get(ctx, "videos/missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get() missing error = %v, want ErrBlobNotFound", err)
	}
}

func TestS3BlobStore_Head(t *testing.T) {
	var bodyRequests int
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			bodyRequests++
		}
		switch r.URL.Path {
		case "/test-bucket/videos/present":
			w.Header().Set("X-Amz-Meta-Job-Id", "present")
			w.WriteHeader(http.StatusOK)
		case "/test-bucket/videos/broken":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	meta, err := store.Head(ctx, "videos/present")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if meta["job-id"] != "present" {
		t.Errorf("Head() job-id = %q, want %q", meta["job-id"], "present")
	}

	if _, err := store.Head(ctx, "videos/missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Head() missing error = %v, want ErrBlobNotFound", err)
	}

	_, err = store.Head(ctx, "videos/broken")
	if err == nil || errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Head() forbidden error = %v, want a non-not-found error", err)
	}

	if bodyRequests != 0 {
		t.Errorf("Head issued %d non-HEAD requests", bodyRequests)
	}
}

func TestS3BlobStore_List(t *testing.T) {
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list-type") != "2" {
			t.Errorf("expected ListObjectsV2 request, got query %s", r.URL.RawQuery)
		}
		if got := r.URL.Query().Get("prefix"); got != "videos/" {
			t.Errorf("prefix = %q, want videos/", got)
		}

		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "" {
			_, _ = fmt.Fprint(w, listPage([]string{"videos/b"}, "page-2"))
			return
		}
		_, _ = fmt.Fprint(w, listPage([]string{"videos/a"}, ""))
	})

	keys, err := store.List(context.Background(), "videos/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"videos/a", "videos/b"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}
}

func listPage(keys []string, next string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	b.WriteString(`<Name>test-bucket</Name><Prefix>videos/</Prefix>`)
	fmt.Fprintf(&b, `<KeyCount>%d</KeyCount>`, len(keys))
	if next != "" {
		fmt.Fprintf(&b, `<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>`, next)
	} else {
		b.WriteString(`<IsTruncated>false</IsTruncated>`)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>1</Size></Contents>`, k)
	}
	b.WriteString(`</ListBucketResult>`)
	return b.String()
}
