// Package fetch retrieves record batches from the gateway's data
// surface, in either of its two protocol shapes.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/watch"
)

// Column positions in the panel's data-table payload.
const (
	colDate        = 0
	colDestination = 2
	colSource      = 3
	colClient      = 4
	colMessage     = 5
	gridRowWidth   = 6
)

// Session exposes the live browser handle owned by the session manager.
type Session interface {
	Browser() watch.Browser
}

// GridConfig controls the grid fetch variant.
type GridConfig struct {
	// RefreshScript is evaluated in the page to trigger a table reload.
	RefreshScript string
	// ResponsePattern correlates the asynchronous refresh response.
	ResponsePattern string
	// Window bounds the response wait.
	Window time.Duration
}

// Grid fetches by triggering a script-driven table reload and
// correlating the resulting asynchronous response.
type Grid struct {
	cfg     GridConfig
	session Session
	logger  *zap.Logger
}

// NewGrid creates a grid fetcher bound to the session manager.
func NewGrid(cfg GridConfig, session Session, logger *zap.Logger) (*Grid, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.RefreshScript == "" {
		return nil, fmt.Errorf("refresh script is required")
	}
	if cfg.ResponsePattern == "" {
		return nil, fmt.Errorf("response pattern is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Second
	}
	return &Grid{cfg: cfg, session: session, logger: logger}, nil
}

// Fetch triggers one reload and returns the rows of the correlated
// response. A quiet window yields an empty batch and no error; only
// session-level failures are errors.
func (g *Grid) Fetch(ctx context.Context) ([]watch.Record, error) {
	b := g.session.Browser()
	if b == nil {
		return nil, watch.ErrSessionUnresponsive
	}

	body, ok, err := b.AwaitResponse(ctx, g.cfg.ResponsePattern, g.cfg.Window, func(ctx context.Context) error {
		return b.Evaluate(ctx, g.cfg.RefreshScript)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", watch.ErrSessionUnresponsive, err)
	}
	if !ok {
		g.logger.Debug("no matching response within window, treating as empty batch",
			zap.Duration("window", g.cfg.Window),
		)
		return nil, nil
	}

	records, err := parseGridPayload(body)
	if err != nil {
		// A malformed payload is a data problem, not a session death.
		g.logger.Error("grid payload unparseable, degrading to empty batch", zap.Error(err))
		return nil, nil
	}
	return records, nil
}

type gridPayload struct {
	AaData [][]any `json:"aaData"`
}

func parseGridPayload(body []byte) ([]watch.Record, error) {
	var payload gridPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode grid payload: %w", err)
	}

	records := make([]watch.Record, 0, len(payload.AaData))
	for _, row := range payload.AaData {
		if len(row) < gridRowWidth {
			continue
		}
		records = append(records, watch.Record{
			Timestamp:   cellString(row[colDate]),
			Destination: cellString(row[colDestination]),
			Source:      cellString(row[colSource]),
			Client:      cellString(row[colClient]),
			Content:     cellString(row[colMessage]),
		})
	}
	return records, nil
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
