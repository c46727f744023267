// Package storage keeps uploaded KYC documents in an object store.
package storage

import "context"

// ObjectStore stores document bytes under a caller-chosen key. Upload never
// overwrites: an existing key fails with kyc.ErrAlreadyExists.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
}

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeFS StoreType = "fs"
	StoreTypeS3 StoreType = "s3"
)
