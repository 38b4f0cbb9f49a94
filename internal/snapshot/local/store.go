// Package local implements a snapshot store on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists the dedup snapshot as a JSON array of fingerprint
// strings, overwritten atomically on each save.
type Store struct {
	path string
}

// New creates a local snapshot store. The parent directory is created
// if missing.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Save writes the fingerprints to a temp file and renames it over the
// snapshot so readers never observe a partial write.
func (s *Store) Save(_ context.Context, fingerprints []string) error {
	if fingerprints == nil {
		fingerprints = []string{}
	}
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields an empty slice.
func (s *Store) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return fingerprints, nil
}
