// Package app initializes and holds long-lived daemon services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/api"
	"github.com/dkozyrev/smswatch/internal/browser"
	"github.com/dkozyrev/smswatch/internal/challenge"
	pschannel "github.com/dkozyrev/smswatch/internal/channel/pubsub"
	"github.com/dkozyrev/smswatch/internal/channel/telegram"
	"github.com/dkozyrev/smswatch/internal/clock/system"
	"github.com/dkozyrev/smswatch/internal/config"
	"github.com/dkozyrev/smswatch/internal/dedup"
	"github.com/dkozyrev/smswatch/internal/dispatch"
	"github.com/dkozyrev/smswatch/internal/fetch"
	"github.com/dkozyrev/smswatch/internal/hash/sha256"
	"github.com/dkozyrev/smswatch/internal/logging"
	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/poller"
	"github.com/dkozyrev/smswatch/internal/session"
	"github.com/dkozyrev/smswatch/internal/snapshot/gcs"
	"github.com/dkozyrev/smswatch/internal/snapshot/local"
	"github.com/dkozyrev/smswatch/internal/snapshot/postgres"
	"github.com/dkozyrev/smswatch/internal/watch"
)

// App holds all shared, long-lived services: logger, session manager,
// fetcher, ledger, dispatcher, poller, and the HTTP surface. It is
// initialized once at startup and fails fast if any critical service
// cannot be built.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	session    watch.Session
	manager    *session.Manager // nil in rest mode
	ledger     *dedup.Deduplicator
	dispatcher *dispatch.Dispatcher
	poller     *poller.Poller
	monitor    *poller.Monitor
	server     *api.Server

	closers []func()
}

// New builds the full service graph from configuration. fatal is
// invoked when a delivery reports a conflicting-instance error.
func New(ctx context.Context, cfg config.Config, fatal func(error)) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clk := system.New()

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := dedup.New(cfg.Ledger.Cap, sha256.New(), store, logger)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}
	ledger.Load(ctx)
	a.ledger = ledger

	channels, err := a.buildChannels(ctx)
	if err != nil {
		return nil, err
	}
	a.dispatcher = dispatch.New(channels, logger)

	sess, fetcher, err := a.buildSource()
	if err != nil {
		return nil, err
	}
	a.session = sess

	a.poller = poller.New(
		poller.Config{Interval: cfg.PollInterval()},
		sess, fetcher, ledger, a.dispatcher, clk, logger, fatal,
	)
	a.monitor = poller.NewMonitor(a.poller, cfg.LivenessPeriod(), cfg.Staleness(), clk, logger)
	a.server = api.NewServer(sess, a.poller, ledger, a.dispatcher.ChannelCount(), cfg.Staleness(), clk, logger)

	logger.Info("services initialized",
		zap.String("source_mode", cfg.Source.Mode),
		zap.String("ledger_provider", cfg.Ledger.Provider),
		zap.Int("channels", a.dispatcher.ChannelCount()),
	)
	return a, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Session returns the session lifecycle surface.
func (a *App) Session() watch.Session { return a.session }

// Ledger returns the dedup ledger, used for the final persist on
// shutdown.
func (a *App) Ledger() *dedup.Deduplicator { return a.ledger }

// Dispatcher returns the channel fan-out.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Poller returns the polling pipeline.
func (a *App) Poller() *poller.Poller { return a.poller }

// Monitor returns the liveness monitor.
func (a *App) Monitor() *poller.Monitor { return a.monitor }

// Server returns the HTTP surface.
func (a *App) Server() *api.Server { return a.server }

// buildStore selects the ledger snapshot backend.
func (a *App) buildStore(ctx context.Context) (watch.SnapshotStore, error) {
	switch a.cfg.Ledger.Provider {
	case "local":
		a.logger.Info("using local ledger snapshot", zap.String("path", a.cfg.Ledger.Local.Path))
		return local.New(a.cfg.Ledger.Local.Path)
	case "gcs":
		if a.cfg.Ledger.GCS.Bucket == "" {
			return nil, fmt.Errorf("ledger provider is 'gcs' but ledger.gcs.bucket is not set")
		}
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.logger.Info("using gcs ledger snapshot", zap.String("bucket", a.cfg.Ledger.GCS.Bucket))
		return gcs.New(client, gcs.Config{Bucket: a.cfg.Ledger.GCS.Bucket, Object: a.cfg.Ledger.GCS.Object})
	case "postgres":
		a.logger.Info("using postgres ledger snapshot", zap.String("table", a.cfg.Ledger.Postgres.Table))
		store, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Ledger.Postgres.DSN, Table: a.cfg.Ledger.Postgres.Table})
		if err != nil {
			return nil, fmt.Errorf("build postgres store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ledger provider: %s", a.cfg.Ledger.Provider)
	}
}

// buildChannels assembles every enabled notification target. One
// telegram Channel per chat id keeps failure isolation per chat.
func (a *App) buildChannels(ctx context.Context) ([]watch.Channel, error) {
	var channels []watch.Channel

	if a.cfg.Channels.Telegram.Enabled {
		for _, chatID := range a.cfg.Channels.Telegram.ChatIDs {
			ch, err := telegram.New(telegram.Config{
				Token:    a.cfg.Channels.Telegram.Token,
				ChatID:   chatID,
				BaseURL:  a.cfg.Channels.Telegram.BaseURL,
				RichText: a.cfg.Channels.Telegram.RichText,
			})
			if err != nil {
				return nil, fmt.Errorf("build telegram channel: %w", err)
			}
			channels = append(channels, ch)
		}
	}

	if a.cfg.Channels.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.Channels.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		ch, err := pschannel.New(client, a.cfg.Channels.PubSub.TopicID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub channel: %w", err)
		}
		a.closers = append(a.closers, ch.Stop)
		channels = append(channels, ch)
	}

	if len(channels) == 0 {
		a.logger.Warn("no channels enabled, records will be tracked but not delivered")
	}
	return channels, nil
}

// buildSource wires the session and fetcher for the configured mode.
func (a *App) buildSource() (watch.Session, watch.Fetcher, error) {
	switch a.cfg.Source.Mode {
	case "grid":
		factory := func(ctx context.Context) (watch.Browser, error) {
			return browser.New(browser.Config{
				UserAgent:  a.cfg.Session.UserAgent,
				Headless:   a.cfg.Session.Headless,
				NavTimeout: a.cfg.NavTimeout(),
			}, a.logger)
		}
		manager, err := session.NewManager(session.Config{
			LoginURL:         a.cfg.Source.LoginURL,
			DataURL:          a.cfg.Source.DataURL,
			Username:         a.cfg.Source.Username,
			Password:         a.cfg.Source.Password,
			UsernameSelector: a.cfg.Source.UsernameSelector,
			PasswordSelector: a.cfg.Source.PasswordSelector,
			AnswerSelector:   a.cfg.Source.AnswerSelector,
			SubmitSelector:   a.cfg.Source.SubmitSelector,
			ReconnectMax:     a.cfg.Session.ReconnectMax,
			ReconnectDelay:   a.cfg.ReconnectDelay(),
		}, factory, challenge.New(), a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build session manager: %w", err)
		}
		fetcher, err := fetch.NewGrid(fetch.GridConfig{
			RefreshScript:   a.cfg.Source.RefreshScript,
			ResponsePattern: a.cfg.Source.ResponsePattern,
			Window:          a.cfg.FetchTimeout(),
		}, manager, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build grid fetcher: %w", err)
		}
		a.manager = manager
		return manager, fetcher, nil
	case "rest":
		fetcher, err := fetch.NewREST(fetch.RESTConfig{
			Endpoint: a.cfg.Source.REST.Endpoint,
			Token:    a.cfg.Source.REST.Token,
			PerPage:  a.cfg.Source.REST.PerPage,
			Timeout:  a.cfg.FetchTimeout(),
		}, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build rest fetcher: %w", err)
		}
		return staticSession{}, fetcher, nil
	default:
		return nil, nil, fmt.Errorf("unknown source mode: %s", a.cfg.Source.Mode)
	}
}

// Close shuts down everything New started. The final ledger persist
// happens before this, while channels are still usable.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down services")
	if a.session != nil {
		a.session.Teardown(ctx)
	}
	for _, closer := range a.closers {
		closer()
	}
	// Best effort: stderr sync fails on some platforms.
	_ = a.logger.Sync()
}

// staticSession backs the rest source mode, which needs no browser.
// It is always active and has nothing to tear down.
type staticSession struct{}

func (staticSession) EnsureActive(context.Context) bool { return true }
func (staticSession) State() watch.SessionState         { return watch.SessionActive }
func (staticSession) Teardown(context.Context)          {}
