// Package storage holds derivative blobs. Only the finalizer writes here,
// and only cleanup deletes here; everything else reads through the CDN or
// file server fronting the backend.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/seanbetts/sidebar-sub000/internal/config"
)

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
}

// NewFromConfig selects the configured backend.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case "fs":
		return NewFSStore(cfg.StorageRoot)
	case "s3":
		return NewS3Store(S3Config{
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
