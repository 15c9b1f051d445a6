package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
)

// GCSBackend stores blobs as objects in a Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSBackend creates a new Cloud Storage backend.
func NewGCSBackend(client *storage.Client, bucket string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// Name implements Backend.
func (*GCSBackend) Name() string { return "gcs" }

// Get implements Backend.
func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, b.logger, "load", key, func() error {
		r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return ErrNotFound
			}
			return fmt.Errorf("open storage reader: %w", err)
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				b.logger.Warn("Failed to close storage reader", "error", closeErr)
			}
		}()

		data, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read from storage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put implements Backend. A Cloud Storage object write is atomic on Close.
func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	return withRetry(ctx, b.logger, "save", key, func() error {
		w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType(key)
		if _, err := w.Write(data); err != nil {
			if closeErr := w.Close(); closeErr != nil {
				b.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close storage writer: %w", err)
		}
		return nil
	})
}
