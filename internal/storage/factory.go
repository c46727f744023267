package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"kyc-service/internal/config"
)

// NewStoreFromConfig builds the object store named by cfg.Type. Filesystem
// is the default.
func NewStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	storeType := StoreType(cfg.Type)
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "kyc-documents"))
	case StoreTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("DOCUMENT_S3_BUCKET is required for S3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported document storage type: %s", storeType)
	}
}
