package storage

import (
	"context"
	"io"
)

// ObjectStorage is the bucket exported reports are published to.
type ObjectStorage interface {
	// Upload writes size bytes read from r under key.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// GetURL returns the address a reader fetches key from.
	GetURL(key string) string
}
