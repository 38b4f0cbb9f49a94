// Package dedup maintains the bounded, persisted ledger of delivered
// message fingerprints.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/watch"
)

// Deduplicator filters already-delivered records by fingerprint.
// The ledger preserves insertion order so eviction always drops the
// oldest-inserted entry once the cap is exceeded.
type Deduplicator struct {
	capacity int
	hasher   watch.Hasher
	store    watch.SnapshotStore
	logger   *zap.Logger

	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

// New creates a Deduplicator with an empty ledger.
func New(capacity int, hasher watch.Hasher, store watch.SnapshotStore, logger *zap.Logger) (*Deduplicator, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ledger capacity must be > 0")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	return &Deduplicator{
		capacity: capacity,
		hasher:   hasher,
		store:    store,
		logger:   logger,
		seen:     map[string]struct{}{},
	}, nil
}

// Fingerprint digests the stable subset of a record's fields. Client
// label is excluded so incidental formatting differences in that
// column never split a delivery event in two.
func (d *Deduplicator) Fingerprint(r watch.Record) (string, error) {
	key := strings.Join([]string{r.Timestamp, r.Destination, r.Source, r.Content}, "\x1f")
	fp, err := d.hasher.Hash([]byte(key))
	if err != nil {
		return "", fmt.Errorf("fingerprint record: %w", err)
	}
	return fp, nil
}

// FilterNew returns, in input order, the records whose fingerprints
// are absent from the ledger, inserting each returned fingerprint
// immediately so a duplicate within the same batch survives once.
func (d *Deduplicator) FilterNew(records []watch.Record) []watch.Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []watch.Record
	for _, r := range records {
		fp, err := d.Fingerprint(r)
		if err != nil {
			d.logger.Error("fingerprint failed, record skipped", zap.Error(err))
			continue
		}
		if _, dup := d.seen[fp]; dup {
			continue
		}
		d.insert(fp)
		fresh = append(fresh, r)
	}
	return fresh
}

// Persist overwrites the stored snapshot with the current ledger.
// The in-memory ledger stays authoritative when the write fails.
func (d *Deduplicator) Persist(ctx context.Context) error {
	d.mu.Lock()
	snapshot := make([]string, len(d.order))
	copy(snapshot, d.order)
	d.mu.Unlock()

	if err := d.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Load populates the ledger from the stored snapshot. Absence or
// corruption of the artifact is non-fatal and yields an empty ledger.
func (d *Deduplicator) Load(ctx context.Context) {
	fingerprints, err := d.store.Load(ctx)
	if err != nil {
		d.logger.Warn("ledger snapshot unreadable, starting empty", zap.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fp := range fingerprints {
		if _, dup := d.seen[fp]; dup {
			continue
		}
		d.insert(fp)
	}
	d.logger.Info("ledger loaded", zap.Int("fingerprints", len(d.order)))
}

// Size reports the current ledger size.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// insert requires d.mu held.
func (d *Deduplicator) insert(fp string) {
	d.order = append(d.order, fp)
	d.seen[fp] = struct{}{}
	for len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
}
