//go:build gcp

package stores

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Key    string
}

// GCSStore keeps the cache document as a single GCS object.
type GCSStore struct {
	objectStore
}

type gcsBackend struct {
	client *storage.Client
	bucket string
	key    string
}

// NewGCSStore creates a GCS-backed cache store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{objectStore{backend: &gcsBackend{client: client, bucket: cfg.Bucket, key: cfg.Key}}}, nil
}

func newGCSCacheStore(ctx context.Context, bucket, key string) (CacheStore, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: bucket, Key: key})
}

func (b *gcsBackend) name() string { return "gcs" }
func (b *gcsBackend) close() error { return b.client.Close() }

func (b *gcsBackend) read(ctx context.Context) ([]byte, bool, error) {
	reader, err := b.client.Bucket(b.bucket).Object(b.key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("gcs get failed for gs://%s/%s: %w", b.bucket, b.key, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *gcsBackend) write(ctx context.Context, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(b.key).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}
