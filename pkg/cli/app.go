// Package cli implements the ekaya-datasync command line.
package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync/github"
	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync/ical"
	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync/jira"
	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync/localtable"
	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync/sqltable"
	"github.com/ekaya-inc/ekaya-datasync/pkg/config"
	"github.com/ekaya-inc/ekaya-datasync/pkg/crypto"
	"github.com/ekaya-inc/ekaya-datasync/pkg/database"
	"github.com/ekaya-inc/ekaya-datasync/pkg/events"
	"github.com/ekaya-inc/ekaya-datasync/pkg/logging"
	"github.com/ekaya-inc/ekaya-datasync/pkg/metrics"
	"github.com/ekaya-inc/ekaya-datasync/pkg/repositories"
	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
	"github.com/ekaya-inc/ekaya-datasync/pkg/services"
)

// App is the wired service graph shared by the commands.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *database.DB
	Registry    *datasync.Registry
	Metrics     *prometheus.Registry
	Workspaces  repositories.WorkspaceRepository
	Permissions services.PermissionService
	Tables      services.TableService
	DataSyncs   services.DataSyncService
	Bus         *events.Bus
}

// NewApp loads configuration, connects to PostgreSQL, applies migrations and
// builds the services.
func NewApp(ctx context.Context, configPath, version string) (*App, error) {
	cfg, err := config.LoadFrom(configPath, version)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Duration("sync_interval", cfg.Sync.Interval))

	encryptor, err := crypto.NewConfigEncryptor(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("DATASYNC_CREDENTIALS_KEY: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(cfg.Database.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, err
	}

	bus := events.NewBus(logger)
	workspaces := repositories.NewWorkspaceRepository(db)
	perms := services.NewPermissionService(workspaces, logger)
	tables := services.NewTableService(
		repositories.NewTableRepository(db),
		repositories.NewFieldRepository(db),
		repositories.NewRowRepository(db),
		perms,
		bus,
		logger,
	)

	registry, err := newRegistry(cfg, tables, perms, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dataSyncs := services.NewDataSyncService(
		db,
		repositories.NewDataSyncRepository(db),
		workspaces,
		tables,
		perms,
		registry,
		encryptor,
		bus,
		metrics.New(promRegistry),
		logger,
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Registry:    registry,
		Metrics:     promRegistry,
		Workspaces:  workspaces,
		Permissions: perms,
		Tables:      tables,
		DataSyncs:   dataSyncs,
		Bus:         bus,
	}, nil
}

// newRegistry builds the registry of every data sync type. tables and perms
// back the local table adapter and may be nil when only the type names are needed.
func newRegistry(cfg *config.Config, tables localtable.TableSource, perms localtable.ReadChecker, logger *zap.Logger) (*datasync.Registry, error) {
	client := datasync.NewHTTPClient(cfg.Sync.FetchTimeout, retry.WithMaxRetries(cfg.Sync.MaxRetries), logger)
	return datasync.NewRegistry(
		ical.NewAdapter(client),
		github.NewAdapter(client, github.DefaultBaseURL, cfg.Sync.PageSize),
		jira.NewAdapter(client, cfg.Sync.PageSize),
		localtable.NewAdapter(tables, perms),
		sqltable.NewAdapter(cfg.Sync.FetchTimeout, logger),
	)
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	a.DB.Close()
	_ = a.Logger.Sync()
}
