package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/events"
	"github.com/ekaya-inc/ekaya-datasync/pkg/handlers"
	"github.com/ekaya-inc/ekaya-datasync/pkg/services"
)

const (
	httpShutdownTimeout = 10 * time.Second
	syncShutdownTimeout = 30 * time.Second
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "admin",
		Short:   "Run the sync scheduler with health and metrics endpoints",
		Long: `Run the long-lived sync process.

Every sync.interval the scheduler enqueues each data sync. Syncs of
different data syncs run concurrently up to sync.max_concurrent; a data
sync is never synced twice at the same time.

Endpoints:
  GET /health    database and runner status
  GET /ping      liveness and version
  GET /metrics   Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				return serve(ctx, app)
			})
		},
	}
}

func serve(ctx context.Context, app *App) error {
	logger := app.Logger
	cfg := app.Config

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Bus.Subscribe(func(_ context.Context, e events.Event) error {
		logger.Debug("Table event",
			zap.String("type", e.Type),
			zap.String("table_id", e.TableID.String()),
			zap.Bool("force_refresh", e.ForceRefresh),
			zap.Int("rows", len(e.RowIDs)))
		return nil
	})

	runner := services.NewSyncRunner(app.DataSyncs, cfg.Sync.MaxConcurrent, cfg.Sync.MaxRetries, logger)

	var scheduler *services.Scheduler
	if cfg.Sync.Interval > 0 {
		scheduler = services.NewScheduler(app.DataSyncs, runner, cfg.Sync.Interval, logger)
		scheduler.Start(ctx)
	} else {
		logger.Info("Scheduled syncs disabled (sync.interval is 0)")
	}

	health := handlers.NewHealthHandler(cfg, app.DB, runner, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handlers.NewRouter(health, app.Metrics, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-datasync",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		runErr = err
		logger.Error("Server failed", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	runner.Shutdown(syncShutdownTimeout)
	logger.Info("Stopped")
	return runErr
}
