// Package sqlite stores the schedule collection as one row of the
// schedule_slots table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"roastline/internal/schedule"
)

// DefaultSlot is the slot the schedule lives in when none is configured.
const DefaultSlot = "roast_schedule"

var _ schedule.Backend = Backend{}

// Backend expects a migrated database (see internal/migrate).
type Backend struct {
	DB   *sql.DB
	Slot string
}

func New(db *sql.DB, slot string) Backend {
	if slot == "" {
		slot = DefaultSlot
	}
	return Backend{DB: db, Slot: slot}
}

func (b Backend) Load(ctx context.Context) (schedule.Envelope, error) {
	var payload string
	err := b.DB.QueryRowContext(ctx, `SELECT payload FROM schedule_slots WHERE name=?`, b.Slot).Scan(&payload)
	if err == sql.ErrNoRows {
		return schedule.Envelope{Version: schedule.EnvelopeVersion}, nil
	}
	if err != nil {
		return schedule.Envelope{}, fmt.Errorf("select slot %s: %w", b.Slot, err)
	}
	return schedule.Decode([]byte(payload))
}

func (b Backend) Save(ctx context.Context, env schedule.Envelope) error {
	payload, err := schedule.Encode(env)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = b.DB.ExecContext(ctx, `INSERT INTO schedule_slots(name,version,payload,updated_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET version=excluded.version, payload=excluded.payload, updated_at=excluded.updated_at`,
		b.Slot, schedule.EnvelopeVersion, string(payload), now)
	if err != nil {
		return fmt.Errorf("upsert slot %s: %w", b.Slot, err)
	}
	return nil
}
