package inventory_test

import (
	"context"
	"testing"
	"time"

	"roastline/internal/db"
	"roastline/internal/inventory"
	"roastline/internal/migrate"
)

func TestCurrentInventory(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seed := []string{
		`INSERT INTO green_coffee(id,name,origin,process,quantity,created_at) VALUES ('g1','Yirgacheffe','Ethiopia','washed',12000,'2025-01-01T00:00:00Z')`,
		`INSERT INTO green_coffee(id,name,quantity,created_at) VALUES ('g2','Empty Sack',0,'2025-01-01T00:00:00Z')`,
		`INSERT INTO roasted_coffee(id,name,green_coffee_id,roast_date,quantity,created_at) VALUES ('r1','Yirga Light','g1','2025-01-03',850,'2025-01-03T10:00:00Z')`,
		`INSERT INTO roasted_coffee(id,name,green_coffee_id,roast_date,quantity,created_at) VALUES ('r2','Yirga Espresso','g1','2025-01-07',1200,'2025-01-07T10:00:00Z')`,
		`INSERT INTO roasted_coffee(id,name,roast_date,quantity,created_at) VALUES ('r3','Sold Out','2025-01-01',0,'2025-01-01T10:00:00Z')`,
	}
	for _, stmt := range seed {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	now := time.Date(2025, 1, 8, 16, 0, 0, 0, time.UTC)
	inv, err := inventory.SQLLedger{DB: conn}.CurrentInventory(context.Background(), now)
	if err != nil {
		t.Fatalf("current inventory: %v", err)
	}
	if len(inv.Green) != 1 || inv.Green[0].Name != "Yirgacheffe" || inv.Green[0].Origin != "Ethiopia" {
		t.Fatalf("unexpected green: %+v", inv.Green)
	}
	if len(inv.Roasted) != 2 {
		t.Fatalf("expected 2 roasted lots, got %+v", inv.Roasted)
	}
	if inv.Roasted[0].Name != "Yirga Espresso" || inv.Roasted[0].AgeDays != 1 {
		t.Fatalf("unexpected newest lot: %+v", inv.Roasted[0])
	}
	if inv.Roasted[1].AgeDays != 5 {
		t.Fatalf("expected age 5, got %d", inv.Roasted[1].AgeDays)
	}
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2025, 1, 8, 1, 0, 0, 0, time.UTC)
	cases := map[string]int{
		"2025-01-08": 0,
		"2025-01-01": 7,
		"2025-02-01": 0,
		"garbage":    0,
	}
	for in, want := range cases {
		if got := inventory.AgeDays(in, now); got != want {
			t.Errorf("AgeDays(%q) = %d, want %d", in, got, want)
		}
	}
}
