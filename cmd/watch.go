package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/app"
	"github.com/dkozyrev/smswatch/internal/config"
)

// newWatchCmd creates the 'watch' subcommand, the daemon entry point.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Runs the watcher daemon",
		Long: `Starts the polling pipeline, the liveness monitor, and the status
HTTP server, and runs until interrupted. On SIGINT or SIGTERM the
daemon persists its dedup ledger, notifies its channels, and exits.`,
		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A conflicting-instance error from any channel is the one
	// condition that stops the daemon on its own.
	var fatalOnce sync.Once
	var fatalErr error
	fatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			stop()
		})
	}

	a, err := app.New(ctx, cfg, fatal)
	if err != nil {
		return err
	}
	logger := a.Logger()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()

	a.Dispatcher().Broadcast(ctx, "Watcher started.")

	go a.Monitor().Run(ctx)
	go a.Poller().Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown requested")

	// The parent context is gone; give shutdown its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.Ledger().Persist(shutdownCtx); err != nil {
		logger.Error("final ledger persist failed", zap.Error(err))
	}
	a.Dispatcher().Broadcast(shutdownCtx, "Watcher stopped.")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown failed", zap.Error(err))
	}
	a.Close(shutdownCtx)

	if fatalErr != nil {
		return fmt.Errorf("watcher stopped: %w", fatalErr)
	}
	return nil
}
