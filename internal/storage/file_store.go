package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"kyc-service/internal/kyc"
)

// FileStore keeps documents on local disk, one file per key. It backs
// development setups that have no S3 endpoint.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to ensure document dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Upload creates the file exclusively, then writes through a temp file so a
// crash never leaves a half-written document under the final name.
func (s *FileStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	// O_EXCL reserves the name; a concurrent upload of the same key loses here.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", kyc.ErrAlreadyExists, key)
		}
		return "", fmt.Errorf("failed to reserve %s: %w", key, err)
	}
	f.Close()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		os.Remove(path)
		return "", fmt.Errorf("failed to commit document: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &kyc.NotFoundError{Resource: "document", ID: key}
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("document dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("document dir %s is not a directory", s.baseDir)
	}
	return nil
}
