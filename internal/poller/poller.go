// Package poller runs the periodic poll-filter-dispatch pipeline.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/watch"
)

// Ledger is the dedup surface the pipeline needs.
type Ledger interface {
	FilterNew(records []watch.Record) []watch.Record
	Persist(ctx context.Context) error
	Size() int
}

// Dispatcher fans one record (or a notice) out to every channel.
type Dispatcher interface {
	DeliverAll(ctx context.Context, r watch.Record) []watch.DeliveryResult
	Broadcast(ctx context.Context, text string) []watch.DeliveryResult
}

// Config controls pipeline cadence. Fetch bounding is not here: each
// fetcher self-bounds (the grid's response window, the REST client's
// timeout), so a quiet window never races a poller deadline.
type Config struct {
	Interval time.Duration
}

// Poller ticks on a fixed schedule and guarantees at most one pipeline
// pass in flight at any moment. A tick that fires while the previous
// one still runs is skipped, never queued.
type Poller struct {
	cfg        Config
	session    watch.Session
	fetcher    watch.Fetcher
	ledger     Ledger
	dispatcher Dispatcher
	clock      watch.Clock
	logger     *zap.Logger

	// fatal is invoked when a delivery surfaces ErrConflictingInstance.
	fatal func(error)

	inFlight atomic.Bool

	pollCount atomic.Int64

	mu               sync.Mutex
	lastSuccess      time.Time
	lastForced       time.Time
	degradedNotified bool
}

// New creates a Poller. fatal may be nil.
func New(cfg Config, session watch.Session, fetcher watch.Fetcher, ledger Ledger, dispatcher Dispatcher, clock watch.Clock, logger *zap.Logger, fatal func(error)) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if fatal == nil {
		fatal = func(error) {}
	}
	return &Poller{
		cfg:        cfg,
		session:    session,
		fetcher:    fetcher,
		ledger:     ledger,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		fatal:      fatal,
	}
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
func (p *Poller) Run(ctx context.Context) {
	p.markSuccess() // grace period before the liveness monitor may fire

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one pipeline pass unless one is already in flight.
func (p *Poller) Tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("tick skipped, previous pass still in flight")
		metrics.ObservePoll(metrics.PollSkipped)
		return
	}
	defer p.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePoll(metrics.PollError)
			p.logger.Error("tick panicked", zap.Any("error", r))
		}
	}()

	p.pollCount.Add(1)
	p.run(ctx)
}

// ForceRecover tears the session down and re-establishes it, going
// through the same single-flight guard as Tick so recovery never races
// a pipeline pass. No-op when a pass is already in flight, since a
// running pass proves the daemon is not stuck.
func (p *Poller) ForceRecover(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("forced recovery skipped, pipeline in flight")
		return
	}
	defer p.inFlight.Store(false)

	// Note when we forced, but never touch lastSuccess: freshness only
	// advances when a fetch actually completes.
	p.mu.Lock()
	p.lastForced = p.clock.Now()
	p.mu.Unlock()

	p.logger.Warn("forcing session recovery")
	p.session.Teardown(ctx)
	if p.session.EnsureActive(ctx) {
		p.logger.Info("forced recovery succeeded")
		return
	}
	p.logger.Error("forced recovery failed",
		zap.String("session_state", string(p.session.State())))
	p.noteDegraded(ctx)
}

// PollCount reports how many ticks have run (skips excluded).
func (p *Poller) PollCount() int64 {
	return p.pollCount.Load()
}

// LastSuccessfulPoll reports when the pipeline last completed a pass,
// empty batches included.
func (p *Poller) LastSuccessfulPoll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSuccess
}

// LastForcedRecovery reports when ForceRecover last ran. The monitor
// uses it to pace forced recoveries without faking poll freshness.
func (p *Poller) LastForcedRecovery() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForced
}

func (p *Poller) run(ctx context.Context) {
	if !p.session.EnsureActive(ctx) {
		metrics.ObservePoll(metrics.PollSessionUnavailable)
		p.logger.Warn("session unavailable, tick abandoned",
			zap.String("session_state", string(p.session.State())))
		p.noteDegraded(ctx)
		return
	}

	start := p.clock.Now()
	records, err := p.fetcher.Fetch(ctx)
	metrics.ObserveFetch(len(records), p.clock.Now().Sub(start))
	if err != nil {
		metrics.ObservePoll(metrics.PollError)
		p.logger.Error("fetch failed, session torn down", zap.Error(err))
		p.session.Teardown(ctx)
		return
	}

	// A quiet window is still a healthy poll: the panel answered, there
	// was just nothing new.
	p.markSuccess()

	fresh := p.ledger.FilterNew(records)
	metrics.SetLedgerSize(p.ledger.Size())
	if len(records) > 0 {
		p.logger.Info("batch processed",
			zap.Int("fetched", len(records)),
			zap.Int("fresh", len(fresh)))
	}

	for _, r := range fresh {
		for _, res := range p.dispatcher.DeliverAll(ctx, r) {
			if res.Err != nil && errors.Is(res.Err, watch.ErrConflictingInstance) {
				p.fatal(res.Err)
				return
			}
		}
	}

	if len(fresh) > 0 {
		if err := p.ledger.Persist(ctx); err != nil {
			p.logger.Error("ledger persist failed", zap.Error(err))
		}
	}
	metrics.ObservePoll(metrics.PollOK)
}

func (p *Poller) markSuccess() {
	p.mu.Lock()
	p.lastSuccess = p.clock.Now()
	p.mu.Unlock()
}

// noteDegraded broadcasts the session-loss notice exactly once per
// degradation.
func (p *Poller) noteDegraded(ctx context.Context) {
	if p.session.State() != watch.SessionDegraded {
		return
	}
	p.mu.Lock()
	notified := p.degradedNotified
	p.degradedNotified = true
	p.mu.Unlock()
	if notified {
		return
	}
	p.dispatcher.Broadcast(ctx, "Watcher degraded: reconnect budget exhausted, manual intervention required.")
}
