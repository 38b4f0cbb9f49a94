// Package memory implements an in-process snapshot store for tests.
package memory

import (
	"context"
	"sync"
)

// Store keeps the snapshot in memory.
type Store struct {
	mu           sync.Mutex
	fingerprints []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Save replaces the stored snapshot.
func (s *Store) Save(_ context.Context, fingerprints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints = append([]string(nil), fingerprints...)
	return nil
}

// Load returns a copy of the stored snapshot.
func (s *Store) Load(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fingerprints...), nil
}
