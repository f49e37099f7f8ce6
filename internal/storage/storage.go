// Package storage provides durable blob storage and the artifact cache built on it.
// It defines the BlobStore interface (port) for hexagonal architecture and
// implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned when a key does not exist in the store.
var ErrBlobNotFound = errors.New("storage: blob not found")

// Metadata is the string map stored alongside a blob.
type Metadata map[string]string

// BlobStore defines the interface for a namespaced key/value byte store.
// Implementations must treat Put as an idempotent overwrite.
type BlobStore interface {
	// Put writes data and metadata under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte, meta Metadata) error

	// Get reads the value and metadata under key.
	// Returns ErrBlobNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, Metadata, error)

	// Head reads only the metadata under key, without the body.
	// Returns ErrBlobNotFound if the key does not exist.
	Head(ctx context.Context, key string) (Metadata, error)

	// List returns every key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
