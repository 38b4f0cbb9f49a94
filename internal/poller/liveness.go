package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/watch"
)

// Monitor watches poll freshness from outside the pipeline. When no
// poll has succeeded within the staleness threshold it forces a
// recovery through the poller's single-flight guard, so a wedged
// browser cannot quietly stall the daemon forever.
type Monitor struct {
	poller    *Poller
	period    time.Duration
	staleness time.Duration
	clock     watch.Clock
	logger    *zap.Logger
}

// NewMonitor creates a liveness monitor over the given poller.
func NewMonitor(p *Poller, period, staleness time.Duration, clock watch.Clock, logger *zap.Logger) *Monitor {
	if period <= 0 {
		period = time.Minute
	}
	if staleness <= 0 {
		staleness = watch.StalenessDefault
	}
	return &Monitor{
		poller:    p,
		period:    period,
		staleness: staleness,
		clock:     clock,
		logger:    logger,
	}
}

// Run checks freshness until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	last := m.poller.LastSuccessfulPoll()
	if last.IsZero() {
		return
	}
	// Pace on the later of the last real poll and the last forced
	// recovery, so a recovery that has not yet produced a poll is given
	// one staleness interval before being forced again. Freshness
	// itself (lastSuccessfulPoll, the status surface) is untouched.
	if forced := m.poller.LastForcedRecovery(); forced.After(last) {
		last = forced
	}
	age := m.clock.Now().Sub(last)
	if age <= m.staleness {
		return
	}
	m.logger.Warn("polls stale beyond threshold",
		zap.Duration("age", age),
		zap.Duration("threshold", m.staleness))
	m.poller.ForceRecover(ctx)
}
