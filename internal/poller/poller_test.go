package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/dedup"
	"github.com/dkozyrev/smswatch/internal/hash/sha256"
	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/snapshot/memory"
	"github.com/dkozyrev/smswatch/internal/watch"
)

func init() {
	metrics.Init()
}

type fakeSession struct {
	mu        sync.Mutex
	active    bool
	state     watch.SessionState
	teardowns int
	ensures   int
}

func (s *fakeSession) EnsureActive(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	return s.active
}

func (s *fakeSession) State() watch.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Teardown(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns++
}

type fakeFetcher struct {
	mu          sync.Mutex
	batches     [][]watch.Record
	err         error
	calls       int
	hadDeadline bool
	block       chan struct{} // when set, Fetch blocks until closed
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]watch.Record, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := ctx.Deadline(); ok {
		f.hadDeadline = true
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	delivered  []watch.Record
	broadcasts []string
	results    []watch.DeliveryResult
}

func (d *fakeDispatcher) DeliverAll(_ context.Context, r watch.Record) []watch.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, r)
	if d.results != nil {
		return d.results
	}
	return []watch.DeliveryResult{{Channel: "fake", OK: true}}
}

func (d *fakeDispatcher) Broadcast(_ context.Context, text string) []watch.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcasts = append(d.broadcasts, text)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T) *dedup.Deduplicator {
	t.Helper()
	led, err := dedup.New(1000, sha256.New(), memory.New(), zap.NewNop())
	require.NoError(t, err)
	return led
}

func newPoller(t *testing.T, sess *fakeSession, fetcher *fakeFetcher, disp *fakeDispatcher, fatal func(error)) *Poller {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	return New(Config{Interval: time.Second},
		sess, fetcher, newLedger(t), disp, clk, zap.NewNop(), fatal)
}

func TestTickDeliversFreshRecords(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	rec := watch.Record{Timestamp: "t1", Destination: "d", Source: "s", Content: "hello"}
	fetcher := &fakeFetcher{batches: [][]watch.Record{{rec}}}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	p.Tick(context.Background())
	require.Equal(t, []watch.Record{rec}, disp.delivered)
	require.EqualValues(t, 1, p.PollCount())
	require.False(t, p.LastSuccessfulPoll().IsZero())
}

func TestTickSuppressesDuplicatesAcrossTicks(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	rec := watch.Record{Timestamp: "t1", Destination: "d", Source: "s", Content: "hello"}
	fetcher := &fakeFetcher{batches: [][]watch.Record{{rec}, {rec}}}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	p.Tick(context.Background())
	p.Tick(context.Background())
	require.Len(t, disp.delivered, 1)
}

func TestEmptyBatchStillAdvancesFreshness(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	fetcher := &fakeFetcher{}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	before := p.LastSuccessfulPoll()
	require.True(t, before.IsZero())
	p.Tick(context.Background())
	require.False(t, p.LastSuccessfulPoll().IsZero())
	require.Empty(t, disp.delivered)
}

func TestTickLeavesFetchBoundingToFetcher(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	fetcher := &fakeFetcher{}
	p := newPoller(t, sess, fetcher, &fakeDispatcher{}, nil)

	p.Tick(context.Background())
	require.Equal(t, 1, fetcher.calls)
	// The fetchers self-bound (response window, client timeout). A
	// poller-imposed deadline would race the grid's quiet window and
	// turn "no new data" into a session failure.
	require.False(t, fetcher.hadDeadline)
}

func TestFetchErrorTearsDownSession(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	fetcher := &fakeFetcher{err: errors.New("tab crashed")}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	p.Tick(context.Background())
	require.Equal(t, 1, sess.teardowns)
	require.True(t, p.LastSuccessfulPoll().IsZero())
}

func TestSessionUnavailableSkipsFetch(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: false, state: watch.SessionDisconnected}
	fetcher := &fakeFetcher{}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	p.Tick(context.Background())
	require.Equal(t, 0, fetcher.calls)
}

func TestDegradedSessionBroadcastsOnce(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: false, state: watch.SessionDegraded}
	fetcher := &fakeFetcher{}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	p.Tick(context.Background())
	p.Tick(context.Background())
	require.Len(t, disp.broadcasts, 1)
	require.Contains(t, disp.broadcasts[0], "degraded")
}

func TestConflictingInstanceIsFatal(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	rec := watch.Record{Timestamp: "t1", Content: "hello"}
	fetcher := &fakeFetcher{batches: [][]watch.Record{{rec}}}
	disp := &fakeDispatcher{results: []watch.DeliveryResult{
		{Channel: "telegram:1", OK: false, Err: watch.ErrConflictingInstance},
	}}

	var fatalErr error
	p := newPoller(t, sess, fetcher, disp, func(err error) { fatalErr = err })

	p.Tick(context.Background())
	require.ErrorIs(t, fatalErr, watch.ErrConflictingInstance)
}

func TestOverlappingTickIsSkippedNotQueued(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	gate := make(chan struct{})
	fetcher := &fakeFetcher{block: gate}
	disp := &fakeDispatcher{}
	p := newPoller(t, sess, fetcher, disp, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Tick(context.Background())
	}()

	// Wait until the first tick is inside Fetch, then fire more ticks.
	require.Eventually(t, func() bool { return p.inFlight.Load() }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		p.Tick(context.Background())
	}
	require.EqualValues(t, 1, p.PollCount())

	close(gate)
	wg.Wait()
	require.Equal(t, 1, fetcher.calls)
}

func TestForceRecoverReestablishesSession(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	p := newPoller(t, sess, &fakeFetcher{}, &fakeDispatcher{}, nil)

	p.ForceRecover(context.Background())
	require.Equal(t, 1, sess.teardowns)
	require.Equal(t, 1, sess.ensures)
	require.False(t, p.LastForcedRecovery().IsZero())
	// Recovery alone is not a poll: only a completed fetch may advance
	// the freshness signal.
	require.True(t, p.LastSuccessfulPoll().IsZero())
}

func TestForceRecoverSkippedWhileTickInFlight(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	gate := make(chan struct{})
	fetcher := &fakeFetcher{block: gate}
	p := newPoller(t, sess, fetcher, &fakeDispatcher{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Tick(context.Background())
	}()

	require.Eventually(t, func() bool { return p.inFlight.Load() }, time.Second, time.Millisecond)
	p.ForceRecover(context.Background())
	require.Equal(t, 0, sess.teardowns)

	close(gate)
	wg.Wait()
}

func TestMonitorForcesRecoveryWhenStale(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	p := New(Config{Interval: time.Second},
		sess, &fakeFetcher{}, newLedger(t), &fakeDispatcher{}, clk, zap.NewNop(), nil)
	m := NewMonitor(p, time.Minute, 5*time.Minute, clk, zap.NewNop())

	p.markSuccess()
	m.check(context.Background())
	require.Equal(t, 0, sess.teardowns)

	clk.Advance(6 * time.Minute)
	m.check(context.Background())
	require.Equal(t, 1, sess.teardowns)
}

func TestForcedRecoveryDoesNotFakeFreshness(t *testing.T) {
	t.Parallel()

	// Always-active session, fetcher down: every tick fails, so the
	// freshness signal must stay stale no matter how often the monitor
	// forces a recovery.
	sess := &fakeSession{active: true, state: watch.SessionActive}
	fetcher := &fakeFetcher{err: errors.New("endpoint down")}
	clk := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	p := New(Config{Interval: time.Second},
		sess, fetcher, newLedger(t), &fakeDispatcher{}, clk, zap.NewNop(), nil)
	m := NewMonitor(p, time.Minute, 5*time.Minute, clk, zap.NewNop())

	p.markSuccess()
	lastGood := p.LastSuccessfulPoll()

	clk.Advance(6 * time.Minute)
	m.check(context.Background())
	require.Equal(t, 1, sess.teardowns)
	require.Equal(t, lastGood, p.LastSuccessfulPoll())

	// The forced recovery buys one staleness interval, nothing more.
	m.check(context.Background())
	require.Equal(t, 1, sess.teardowns)

	clk.Advance(6 * time.Minute)
	m.check(context.Background())
	require.Equal(t, 2, sess.teardowns)
	require.Equal(t, lastGood, p.LastSuccessfulPoll())
}

func TestMonitorIdleBeforeFirstPoll(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{active: true, state: watch.SessionActive}
	clk := &fakeClock{now: time.Now()}
	p := New(Config{}, sess, &fakeFetcher{}, newLedger(t), &fakeDispatcher{}, clk, zap.NewNop(), nil)
	m := NewMonitor(p, 0, 0, clk, zap.NewNop())

	m.check(context.Background())
	require.Equal(t, 0, sess.teardowns)
}
