// Package gcs provides a snapshot store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to locate the snapshot object.
type Config struct {
	Bucket string
	Object string
}

// Store keeps the dedup snapshot in a single bucket object.
type Store struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Object == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Save overwrites the snapshot object with the fingerprint list.
// GCS object writes are atomic, so readers see old or new, never both.
func (s *Store) Save(ctx context.Context, fingerprints []string) error {
	if fingerprints == nil {
		fingerprints = []string{}
	}
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Load reads the snapshot object. A missing object yields an empty slice.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return fingerprints, nil
}
