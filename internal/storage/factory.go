package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/autograde/internal/config"
)

// Open connects to the report bucket described by cfg and makes sure the bucket exists.
// Parameters:
//   - ctx: bounds the bucket check.
//   - cfg: export.upload settings.
//
// Returns:
//   - ObjectStorage: store ready for uploads.
//   - error: non-nil if the client cannot be created or the bucket is unusable.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	s, err := NewS3Storage(ctx, fromUpload(cfg))
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("report bucket %s: %w", cfg.Bucket, err)
	}
	return s, nil
}

// fromUpload maps the upload settings to an S3Config, detecting the provider from the endpoint when unset.
func fromUpload(cfg config.StorageConfig) *S3Config {
	typ := StorageType(strings.ToLower(cfg.Type))
	if typ == "" {
		typ = detectStorageType(cfg.Endpoint)
	}
	return &S3Config{
		Type:      typ,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	}
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
