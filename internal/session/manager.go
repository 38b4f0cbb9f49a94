// Package session owns the scraping-session lifecycle: login against
// the challenge-protected panel, liveness probing, teardown, and
// bounded reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/watch"
)

// Config controls session establishment and recovery.
type Config struct {
	LoginURL string
	DataURL  string
	Username string
	Password string

	UsernameSelector string
	PasswordSelector string
	AnswerSelector   string
	SubmitSelector   string

	ReconnectMax   int
	ReconnectDelay time.Duration
}

// BrowserFactory acquires a fresh automation handle.
type BrowserFactory func(ctx context.Context) (watch.Browser, error)

// Manager is the single owner of the browser handle. All lifecycle
// mutation happens inside EnsureActive or Teardown; the polling
// pipeline serializes calls through its single-flight guard.
type Manager struct {
	cfg     Config
	factory BrowserFactory
	solver  watch.Solver
	logger  *zap.Logger

	lifecycle sync.Mutex

	stateMu    sync.RWMutex
	state      watch.SessionState
	browser    watch.Browser
	reconnects int
}

// NewManager creates a Manager in the disconnected state.
func NewManager(cfg Config, factory BrowserFactory, solver watch.Solver, logger *zap.Logger) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("browser factory is required")
	}
	if solver == nil {
		return nil, fmt.Errorf("challenge solver is required")
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		solver:  solver,
		logger:  logger,
		state:   watch.SessionDisconnected,
	}, nil
}

// State reports the current lifecycle state.
func (m *Manager) State() watch.SessionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Reconnects reports failed attempts since the last active session.
func (m *Manager) Reconnects() int {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.reconnects
}

// EnsureActive returns true when a live authenticated session is
// available. An active session is probed first; a dead or absent one
// triggers exactly one establishment cycle (one attempt, one backoff
// retry). A degraded manager returns false immediately with no
// network activity.
func (m *Manager) EnsureActive(ctx context.Context) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	switch m.State() {
	case watch.SessionDegraded:
		return false
	case watch.SessionActive:
		b := m.currentBrowser()
		if b != nil {
			if err := b.Probe(ctx); err == nil {
				return true
			}
			m.logger.Warn("liveness probe failed, session presumed dead",
				zap.String("state", string(watch.SessionActive)),
			)
		}
	}

	if err := m.connect(ctx); err == nil {
		return true
	} else if m.recordFailure(ctx, err) {
		return false
	}

	select {
	case <-time.After(m.cfg.ReconnectDelay):
	case <-ctx.Done():
		return false
	}

	if err := m.connect(ctx); err != nil {
		m.recordFailure(ctx, err)
		return false
	}
	return true
}

// Teardown closes the live session. A degraded manager stays
// degraded; anything else returns to disconnected.
func (m *Manager) Teardown(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.teardown(ctx)
}

// Reset clears the degraded state so an external operator can force a
// fresh reconnection cycle.
func (m *Manager) Reset() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = watch.SessionDisconnected
	m.reconnects = 0
}

// Browser exposes the live handle to the fetcher. Nil unless active.
func (m *Manager) Browser() watch.Browser {
	if m.State() != watch.SessionActive {
		return nil
	}
	return m.currentBrowser()
}

// connect performs the full establishment sequence: teardown stale
// resources, acquire a handle, solve the login challenge, submit
// credentials, verify the panel let us through, and land on the data
// surface.
func (m *Manager) connect(ctx context.Context) error {
	m.teardown(ctx)
	m.setState(watch.SessionConnecting)
	metrics.ObserveReconnect()

	b, err := m.factory(ctx)
	if err != nil {
		return fmt.Errorf("acquire browser: %w", err)
	}
	m.setBrowser(b)
	m.setState(watch.SessionAuthenticating)

	if err := b.Navigate(ctx, m.cfg.LoginURL); err != nil {
		return fmt.Errorf("open login surface: %w", err)
	}
	pageText, err := b.PageText(ctx)
	if err != nil {
		return fmt.Errorf("read login surface: %w", err)
	}
	answer, found := m.solver.Solve(pageText)
	if !found {
		return watch.ErrChallengeUnsolved
	}

	if err := b.FillField(ctx, m.cfg.UsernameSelector, m.cfg.Username); err != nil {
		return err
	}
	if err := b.FillField(ctx, m.cfg.PasswordSelector, m.cfg.Password); err != nil {
		return err
	}
	if err := b.FillField(ctx, m.cfg.AnswerSelector, strconv.Itoa(answer)); err != nil {
		return err
	}
	if err := b.Submit(ctx, m.cfg.SubmitSelector); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	loc, err := b.Location(ctx)
	if err != nil {
		return fmt.Errorf("read post-login location: %w", err)
	}
	if onLoginSurface(loc, m.cfg.LoginURL) {
		return watch.ErrAuthRejected
	}

	if err := b.Navigate(ctx, m.cfg.DataURL); err != nil {
		return fmt.Errorf("open data surface: %w", err)
	}

	m.stateMu.Lock()
	m.state = watch.SessionActive
	m.reconnects = 0
	m.stateMu.Unlock()
	m.logger.Info("session established", zap.String("data_url", m.cfg.DataURL))
	return nil
}

// recordFailure tears down partial state and advances the reconnect
// counter. Returns true once the budget is exhausted and the manager
// has gone degraded.
func (m *Manager) recordFailure(ctx context.Context, err error) bool {
	m.teardown(ctx)

	m.stateMu.Lock()
	m.reconnects++
	attempts := m.reconnects
	degraded := attempts >= m.cfg.ReconnectMax
	if degraded {
		m.state = watch.SessionDegraded
	}
	m.stateMu.Unlock()

	switch {
	case errors.Is(err, watch.ErrChallengeUnsolved):
		m.logger.Warn("login challenge not found on page",
			zap.Int("attempt", attempts), zap.Error(err))
	case errors.Is(err, watch.ErrAuthRejected):
		m.logger.Warn("panel rejected credentials",
			zap.Int("attempt", attempts), zap.Error(err))
	default:
		m.logger.Warn("session establishment failed",
			zap.Int("attempt", attempts), zap.Error(err))
	}
	if degraded {
		m.logger.Error("reconnect budget exhausted, session degraded",
			zap.Int("attempts", attempts),
			zap.Int("max", m.cfg.ReconnectMax),
		)
	}
	return degraded
}

func (m *Manager) teardown(ctx context.Context) {
	b := m.currentBrowser()
	if b != nil {
		if err := b.Close(ctx); err != nil {
			m.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	m.stateMu.Lock()
	m.browser = nil
	if m.state != watch.SessionDegraded {
		m.state = watch.SessionDisconnected
	}
	m.stateMu.Unlock()
}

func (m *Manager) setState(s watch.SessionState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

func (m *Manager) setBrowser(b watch.Browser) {
	m.stateMu.Lock()
	m.browser = b
	m.stateMu.Unlock()
}

func (m *Manager) currentBrowser() watch.Browser {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.browser
}

// onLoginSurface reports whether loc still denotes the login page.
func onLoginSurface(loc, loginURL string) bool {
	parsed, err := url.Parse(loginURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return strings.HasPrefix(loc, loginURL)
	}
	return strings.Contains(loc, parsed.Path)
}
