// Package postgres stores the schedule collection as one JSONB row of the
// schedule_slots table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"roastline/internal/migrate"
	"roastline/internal/schedule"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/roastline?sslmode=disable"
	DefaultSlot   = "roast_schedule"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var _ schedule.Backend = (*Backend)(nil)

type Backend struct {
	db   *sql.DB
	slot string
}

// Open connects, applies the Postgres migrations and returns a backend bound
// to slot.
func Open(ctx context.Context, dsn, slot string) (*Backend, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate.MigrateDialect(db, migrate.Postgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, slot), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, slot string) *Backend {
	if slot == "" {
		slot = DefaultSlot
	}
	return &Backend{db: db, slot: slot}
}

// DB exposes the pool so the inventory ledger can share it.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Load(ctx context.Context) (schedule.Envelope, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM schedule_slots WHERE name=$1`, b.slot).Scan(&payload)
	if err == sql.ErrNoRows {
		return schedule.Envelope{Version: schedule.EnvelopeVersion}, nil
	}
	if err != nil {
		return schedule.Envelope{}, fmt.Errorf("select slot %s: %w", b.slot, err)
	}
	return schedule.Decode(payload)
}

func (b *Backend) Save(ctx context.Context, env schedule.Envelope) error {
	payload, err := schedule.Encode(env)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `INSERT INTO schedule_slots(name,version,payload,updated_at) VALUES ($1,$2,$3,$4)
ON CONFLICT(name) DO UPDATE SET version=excluded.version, payload=excluded.payload, updated_at=excluded.updated_at`,
		b.slot, schedule.EnvelopeVersion, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert slot %s: %w", b.slot, err)
	}
	return nil
}
