package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"roastline/internal/backend/sqlite"
	"roastline/internal/db"
	"roastline/internal/domain"
	"roastline/internal/migrate"
	"roastline/internal/schedule"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLoadEmptySlot(t *testing.T) {
	b := sqlite.New(openDB(t), "")
	env, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(env.Entries) != 0 {
		t.Fatalf("expected empty slot, got %d entries", len(env.Entries))
	}
}

func TestStoreOverSQLite(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	s := schedule.New(sqlite.New(conn, ""))
	s.Now = func() time.Time { return time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC) }

	created, err := s.Create(ctx, domain.ScheduleEntryRequest{
		CoffeeName:       "Colombia Huila",
		GreenCoffeeName:  "Huila Washed",
		ScheduledDate:    "2025-01-09",
		GreenWeight:      800,
		TargetRoastLevel: domain.RoastMedium,
		EquipmentID:      "aillio-r1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a second store over the same slot sees the write
	other := schedule.New(sqlite.New(conn, sqlite.DefaultSlot))
	got, err := other.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get from second store: %v", err)
	}
	if got.CoffeeName != "Colombia Huila" || got.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected entry: %+v", got)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schedule_slots WHERE name=?`, sqlite.DefaultSlot).Scan(&version); err != nil {
		t.Fatalf("read slot: %v", err)
	}
	if version != schedule.EnvelopeVersion {
		t.Fatalf("expected envelope version %d, got %d", schedule.EnvelopeVersion, version)
	}
}

func TestCorruptSlotFailsOpen(t *testing.T) {
	conn := openDB(t)
	if _, err := conn.Exec(`INSERT INTO schedule_slots(name,version,payload,updated_at) VALUES (?,?,?,?)`,
		sqlite.DefaultSlot, 1, "{broken", "2025-01-01T00:00:00Z"); err != nil {
		t.Fatalf("seed corrupt slot: %v", err)
	}
	b := sqlite.New(conn, "")
	if _, err := b.Load(context.Background()); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
	list, err := schedule.New(b).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list on corrupt slot")
	}
}
