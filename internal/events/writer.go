// Package events keeps the roast_events outbox: one row per schedule
// mutation, read by the roast-completion workflow.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"roastline/internal/domain"
	"roastline/internal/migrate"
)

const (
	TypeScheduled = "roast.scheduled"
	TypeUpdated   = "roast.updated"
	TypeCompleted = "roast.completed"
	TypeDeleted   = "roast.deleted"
)

type Payload map[string]any

type Event struct {
	ID      int64   `json:"id"`
	TS      string  `json:"ts"`
	Type    string  `json:"type"`
	RoastID string  `json:"roast_id"`
	Actor   string  `json:"actor"`
	Payload Payload `json:"payload"`
}

type Writer struct {
	DB      *sql.DB
	Dialect migrate.Dialect
	Now     func() time.Time
}

func (w Writer) Append(ctx context.Context, evtType, roastID, actor string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(domain.TimestampLayout)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	insert := `INSERT INTO roast_events(ts,type,roast_id,actor,payload_json) VALUES (?,?,?,?,?)`
	if w.Dialect == migrate.Postgres {
		insert = `INSERT INTO roast_events(ts,type,roast_id,actor,payload_json) VALUES ($1,$2,$3,$4,$5)`
	}
	_, err = w.DB.ExecContext(ctx, insert, ts, evtType, roastID, actor, string(data))
	return err
}

// Latest returns up to n events, newest first.
func (w Writer) Latest(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, ts, type, roast_id, actor, payload_json FROM roast_events ORDER BY id DESC LIMIT ?`
	if w.Dialect == migrate.Postgres {
		query = `SELECT id, ts, type, roast_id, actor, payload_json::text FROM roast_events ORDER BY id DESC LIMIT $1`
	}
	return w.query(ctx, query, n)
}

// After returns up to n events with id greater than cursor, oldest first.
func (w Writer) After(ctx context.Context, cursor int64, n int) ([]Event, error) {
	if n <= 0 {
		n = 100
	}
	query := `SELECT id, ts, type, roast_id, actor, payload_json FROM roast_events WHERE id > ? ORDER BY id ASC LIMIT ?`
	if w.Dialect == migrate.Postgres {
		query = `SELECT id, ts, type, roast_id, actor, payload_json::text FROM roast_events WHERE id > $1 ORDER BY id ASC LIMIT $2`
	}
	return w.query(ctx, query, cursor, n)
}

// LatestID is the newest event id, zero when the outbox is empty.
func (w Writer) LatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := w.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM roast_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (w Writer) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var raw string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RoastID, &e.Actor, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
