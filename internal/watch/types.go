// Package watch defines core types shared across subsystems.
package watch

import (
	"errors"
	"time"
)

// Record is one observed message from the gateway panel.
// Immutable once fetched; owned by the tick that fetched it.
type Record struct {
	Timestamp   string `json:"timestamp"`
	Destination string `json:"destination"`
	Source      string `json:"source"`
	Client      string `json:"client"`
	Content     string `json:"content"`
}

// SessionState is the lifecycle state of the scraping session.
type SessionState string

// Session states. Degraded is terminal until an external reset.
const (
	SessionDisconnected   SessionState = "disconnected"
	SessionConnecting     SessionState = "connecting"
	SessionAuthenticating SessionState = "authenticating"
	SessionActive         SessionState = "active"
	SessionDegraded       SessionState = "degraded"
)

// Session-establishment failures. Recovery logic branches on these
// via errors.Is rather than string matching.
var (
	ErrChallengeUnsolved   = errors.New("login challenge unsolved")
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrSessionUnresponsive = errors.New("session unresponsive")
	ErrSessionDegraded     = errors.New("session degraded, reconnect budget exhausted")
)

// ErrConflictingInstance means another process holds the same
// messaging-channel identity. Fatal by design: two instances would
// double-deliver every record.
var ErrConflictingInstance = errors.New("conflicting watcher instance detected")

// DeliveryResult reports one channel's outcome for one record.
type DeliveryResult struct {
	Channel string
	OK      bool
	Err     error
}

// Status is the snapshot served by the read-only status surface.
type Status struct {
	Status             string `json:"status"`
	Uptime             string `json:"uptime"`
	MessagesTracked    int    `json:"messagesTracked"`
	SessionActive      bool   `json:"sessionActive"`
	ActiveChannels     int    `json:"activeChannels"`
	PollCount          int64  `json:"pollCount"`
	LastSuccessfulPoll string `json:"lastSuccessfulPoll"`
	TimeSinceLastPoll  string `json:"timeSinceLastPoll"`
}

// StatusHealthy and StatusDegraded are the two values of Status.Status.
const (
	StatusHealthy  = "ok"
	StatusDegraded = "degraded"
)

// StalenessDefault is the threshold after which the status surface
// reports degraded and the liveness monitor forces recovery.
const StalenessDefault = 5 * time.Minute
