// Package inventory reads on-hand coffee from the inventory ledger. The
// ledger is written by the roast-completion workflow; this package never
// writes to it.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"roastline/internal/domain"
)

// Ledger answers the current on-hand query.
type Ledger interface {
	CurrentInventory(ctx context.Context, now time.Time) (domain.Inventory, error)
}

// SQLLedger reads the green_coffee and roasted_coffee tables. The queries
// take no parameters so the same text runs on SQLite and Postgres.
type SQLLedger struct {
	DB *sql.DB
}

var _ Ledger = SQLLedger{}

func (l SQLLedger) CurrentInventory(ctx context.Context, now time.Time) (domain.Inventory, error) {
	inv := domain.Inventory{Roasted: []domain.RoastedCoffee{}, Green: []domain.GreenCoffee{}}
	rows, err := l.DB.QueryContext(ctx, `SELECT name, quantity, roast_date FROM roasted_coffee WHERE quantity > 0 ORDER BY roast_date DESC, name`)
	if err != nil {
		return inv, fmt.Errorf("select roasted coffee: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.RoastedCoffee
		if err := rows.Scan(&r.Name, &r.Quantity, &r.RoastDate); err != nil {
			return inv, err
		}
		r.AgeDays = AgeDays(r.RoastDate, now)
		inv.Roasted = append(inv.Roasted, r)
	}
	if err := rows.Err(); err != nil {
		return inv, err
	}

	greenRows, err := l.DB.QueryContext(ctx, `SELECT name, quantity, COALESCE(origin,''), COALESCE(process,'') FROM green_coffee WHERE quantity > 0 ORDER BY name`)
	if err != nil {
		return inv, fmt.Errorf("select green coffee: %w", err)
	}
	defer greenRows.Close()
	for greenRows.Next() {
		var g domain.GreenCoffee
		if err := greenRows.Scan(&g.Name, &g.Quantity, &g.Origin, &g.Process); err != nil {
			return inv, err
		}
		inv.Green = append(inv.Green, g)
	}
	return inv, greenRows.Err()
}

// AgeDays is the number of whole days between roastDate and now's UTC day.
// Unparseable dates age as 0.
func AgeDays(roastDate string, now time.Time) int {
	day, err := domain.ParseDate(roastDate)
	if err != nil {
		return 0
	}
	n := now.UTC()
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	age := int(today.Sub(day).Hours() / 24)
	if age < 0 {
		return 0
	}
	return age
}
