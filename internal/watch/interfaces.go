package watch

import (
	"context"
	"time"
)

// Browser is the automation capability: navigate, read, evaluate, and
// observe network traffic. Exactly one implementation handle exists per
// process and it is owned exclusively by the session manager.
type Browser interface {
	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// PageText returns the visible text of the current page.
	PageText(ctx context.Context) (string, error)
	// FillField types a value into the element matched by selector.
	FillField(ctx context.Context, selector, value string) error
	// Submit clicks the element matched by selector and waits for the
	// resulting navigation to settle.
	Submit(ctx context.Context, selector string) error
	// Probe runs a trivial script evaluation; an error means the
	// session is dead.
	Probe(ctx context.Context) error
	// Evaluate runs a script in the page, discarding the result.
	Evaluate(ctx context.Context, script string) error
	// AwaitResponse registers an observer for a network response whose
	// URL contains urlPart, runs trigger, and waits for the matching
	// response body. ok is false when the window elapsed with no match;
	// err reports session-level failure only.
	AwaitResponse(ctx context.Context, urlPart string, window time.Duration, trigger func(context.Context) error) (body []byte, ok bool, err error)
	// Close tears down the browser handle.
	Close(ctx context.Context) error
}

// Session hides the session manager from the polling pipeline.
type Session interface {
	// EnsureActive returns true when a live authenticated session is
	// available. A false return from a degraded session is immediate
	// and performs no network activity.
	EnsureActive(ctx context.Context) bool
	// State reports the current session lifecycle state.
	State() SessionState
	// Teardown closes the live session so the next EnsureActive call
	// reconnects from scratch.
	Teardown(ctx context.Context)
}

// Fetcher retrieves one batch of records through the live session.
// A quiet window (no matching response before the timeout) yields an
// empty batch and a nil error; only session-level failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// Channel delivers one formatted message to a notification target.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// SnapshotStore persists the dedup ledger between restarts.
type SnapshotStore interface {
	// Save overwrites the stored snapshot with the given fingerprints.
	Save(ctx context.Context, fingerprints []string) error
	// Load returns the stored fingerprints, oldest first. A missing
	// snapshot yields an empty slice and no error.
	Load(ctx context.Context) ([]string, error)
}

// Solver extracts and solves the interactive login challenge from the
// rendered login page text.
type Solver interface {
	Solve(pageText string) (answer int, found bool)
}

// Hasher computes the dedup fingerprint digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
