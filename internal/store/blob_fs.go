package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// FSBlobStore implements BlobStore on the local filesystem. It is the default
// for local runs and tests; production deployments use the S3 implementation.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a filesystem blob store rooted at dir.
func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSBlobStore{root: dir}, nil
}

func (f *FSBlobStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	path := filepath.Join(f.root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob path for %s/%s: %w", bucket, key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (f *FSBlobStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	path := filepath.Join(f.root, bucket, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s/%s", core.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to read blob %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
