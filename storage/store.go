package storage

import (
	"context"
	"io"

	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cockroachdb/errors"
)

// Store is the durable object store receiving published batches.
type Store interface {
	// Put writes the object at key. Keys use '/' separators.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Open returns a reader for the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Location returns the URL-style location of prefix, e.g. s3://bucket/prefix.
	Location(prefix string) string
}

// New creates the store selected by cfg.Driver.
func New(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.StorageS3:
		s, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageFile:
		return NewFileStore(cfg.Root)
	default:
		return nil, errors.Newf("unknown storage driver %q", cfg.Driver)
	}
}
