package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"roastline/internal/ai"
	"roastline/internal/backend/file"
	"roastline/internal/backend/memory"
	"roastline/internal/backend/postgres"
	s3backend "roastline/internal/backend/s3"
	"roastline/internal/backend/sqlite"
	"roastline/internal/config"
	"roastline/internal/db"
	"roastline/internal/events"
	"roastline/internal/inventory"
	"roastline/internal/metrics"
	"roastline/internal/migrate"
	"roastline/internal/schedule"
)

// Options are the inputs that do not live in roastline.yml.
type Options struct {
	Workspace string
	Config    *config.Config
	AIAPIKey  string
	Logger    *log.Logger
	Now       func() time.Time
}

// App is the wired service graph shared by the CLI and the HTTP server.
type App struct {
	Config    *config.Config
	Store     *schedule.Store
	Schedule  schedule.Service
	Inventory inventory.Ledger
	Events    events.Writer
	AI        ai.Service
	Metrics   *metrics.Collectors
	Logger    *log.Logger

	closers []func() error
}

// Open builds the backend named by the config and everything layered on it.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	a := &App{Config: cfg, Logger: opts.Logger}

	backend, ledgerDB, dialect, err := a.openBackend(ctx, opts.Workspace)
	if err != nil {
		a.Close()
		return nil, err
	}
	if ledgerDB == nil {
		ledgerDB, err = a.openSQLite(opts.Workspace, cfg.Storage.SQLite.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		dialect = migrate.SQLite
	}

	store := schedule.New(backend)
	store.Logger = opts.Logger
	store.UpcomingWindow = cfg.UpcomingWindow()
	store.StrictCompletion = cfg.Schedule.StrictCompletion
	if opts.Now != nil {
		store.Now = opts.Now
	}
	a.Store = store
	a.Events = events.Writer{DB: ledgerDB, Dialect: dialect, Now: opts.Now}
	a.Metrics = metrics.NewCollectors()
	a.Schedule = metrics.Instrumented{
		Next: events.Recorder{Next: store, W: a.Events, Logger: opts.Logger},
		C:    a.Metrics,
	}
	a.Inventory = inventory.SQLLedger{DB: ledgerDB}
	if opts.AIAPIKey != "" {
		a.AI = ai.Service{Completer: ai.NewClient(opts.AIAPIKey, cfg.AI.Model, cfg.AI.BaseURL, cfg.AITimeout())}
	}
	return a, nil
}

// openBackend returns the schedule backend and, for the sql drivers, the
// connection that also serves the ledger and event tables.
func (a *App) openBackend(ctx context.Context, workspace string) (schedule.Backend, *sql.DB, migrate.Dialect, error) {
	st := a.Config.Storage
	slot := st.Slot
	if slot == "" {
		slot = sqlite.DefaultSlot
	}
	switch st.Driver {
	case config.DriverMemory:
		return memory.New(), nil, "", nil
	case config.DriverFile:
		return file.New(st.File.URL), nil, "", nil
	case config.DriverSQLite:
		conn, err := a.openSQLite(workspace, st.SQLite.Path)
		if err != nil {
			return nil, nil, "", err
		}
		return sqlite.New(conn, slot), conn, migrate.SQLite, nil
	case config.DriverPostgres:
		b, err := postgres.Open(ctx, st.Postgres.DSN, slot)
		if err != nil {
			return nil, nil, "", err
		}
		a.closers = append(a.closers, b.Close)
		return b, b.DB(), migrate.Postgres, nil
	case config.DriverS3:
		b, err := s3backend.New(ctx, s3backend.Config{
			Region:    st.S3.Region,
			Bucket:    st.S3.Bucket,
			Key:       st.S3.Key,
			Endpoint:  st.S3.Endpoint,
			PathStyle: st.S3.PathStyle,
		})
		if err != nil {
			return nil, nil, "", fmt.Errorf("open s3 backend: %w", err)
		}
		return b, nil, "", nil
	default:
		return nil, nil, "", fmt.Errorf("unknown storage driver %q", st.Driver)
	}
}

func (a *App) openSQLite(workspace, path string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace, Path: path})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	if err := migrate.Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// Close releases every connection opened by Open.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
