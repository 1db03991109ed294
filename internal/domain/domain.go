package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire layout of scheduled_date.
const DateLayout = "2006-01-02"

// TimestampLayout is the wire layout of created_at and completed_date.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type RoastLevel string

const (
	RoastLight       RoastLevel = "light"
	RoastMediumLight RoastLevel = "medium-light"
	RoastMedium      RoastLevel = "medium"
	RoastMediumDark  RoastLevel = "medium-dark"
	RoastDark        RoastLevel = "dark"
)

var roastLevels = []RoastLevel{RoastLight, RoastMediumLight, RoastMedium, RoastMediumDark, RoastDark}

func (l RoastLevel) Valid() bool {
	for _, v := range roastLevels {
		if v == l {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ScheduleEntryRequest is what a caller supplies to plan a roast.
type ScheduleEntryRequest struct {
	CoffeeName       string     `json:"coffee_name"`
	GreenCoffeeName  string     `json:"green_coffee_name"`
	ScheduledDate    string     `json:"scheduled_date" format:"date"`
	GreenWeight      float64    `json:"green_weight"`
	TargetRoastLevel RoastLevel `json:"target_roast_level" enum:"light,medium-light,medium,medium-dark,dark"`
	EquipmentID      string     `json:"equipment_id"`
	Notes            string     `json:"notes,omitempty"`
	Priority         Priority   `json:"priority,omitempty" enum:"low,medium,high"`
}

// SchedulePatch carries the fields an update may change. Nil means keep.
type SchedulePatch struct {
	CoffeeName       *string     `json:"coffee_name,omitempty"`
	GreenCoffeeName  *string     `json:"green_coffee_name,omitempty"`
	ScheduledDate    *string     `json:"scheduled_date,omitempty" format:"date"`
	GreenWeight      *float64    `json:"green_weight,omitempty"`
	TargetRoastLevel *RoastLevel `json:"target_roast_level,omitempty" enum:"light,medium-light,medium,medium-dark,dark"`
	EquipmentID      *string     `json:"equipment_id,omitempty"`
	Notes            *string     `json:"notes,omitempty"`
	Priority         *Priority   `json:"priority,omitempty" enum:"low,medium,high"`
}

// Empty reports whether the patch sets nothing.
func (p SchedulePatch) Empty() bool {
	return p.CoffeeName == nil && p.GreenCoffeeName == nil && p.ScheduledDate == nil &&
		p.GreenWeight == nil && p.TargetRoastLevel == nil && p.EquipmentID == nil &&
		p.Notes == nil && p.Priority == nil
}

// ScheduledRoast is the persisted schedule entry.
type ScheduledRoast struct {
	ID               string     `json:"id"`
	CoffeeName       string     `json:"coffee_name"`
	GreenCoffeeName  string     `json:"green_coffee_name"`
	ScheduledDate    string     `json:"scheduled_date" format:"date"`
	GreenWeight      float64    `json:"green_weight"`
	TargetRoastLevel RoastLevel `json:"target_roast_level" enum:"light,medium-light,medium,medium-dark,dark"`
	EquipmentID      string     `json:"equipment_id"`
	Notes            string     `json:"notes,omitempty"`
	Priority         Priority   `json:"priority" enum:"low,medium,high"`
	Completed        bool       `json:"completed"`
	CompletedDate    *string    `json:"completed_date,omitempty" format:"date-time"`
	CreatedAt        string     `json:"created_at" format:"date-time"`
}

// Request returns the caller-owned fields of the entry.
func (r ScheduledRoast) Request() ScheduleEntryRequest {
	return ScheduleEntryRequest{
		CoffeeName:       r.CoffeeName,
		GreenCoffeeName:  r.GreenCoffeeName,
		ScheduledDate:    r.ScheduledDate,
		GreenWeight:      r.GreenWeight,
		TargetRoastLevel: r.TargetRoastLevel,
		EquipmentID:      r.EquipmentID,
		Notes:            r.Notes,
		Priority:         r.Priority,
	}
}

// Apply merges the set fields of p into r. Identity and completion fields are
// not reachable from a patch.
func (r ScheduledRoast) Apply(p SchedulePatch) ScheduledRoast {
	if p.CoffeeName != nil {
		r.CoffeeName = *p.CoffeeName
	}
	if p.GreenCoffeeName != nil {
		r.GreenCoffeeName = *p.GreenCoffeeName
	}
	if p.ScheduledDate != nil {
		r.ScheduledDate = *p.ScheduledDate
	}
	if p.GreenWeight != nil {
		r.GreenWeight = *p.GreenWeight
	}
	if p.TargetRoastLevel != nil {
		r.TargetRoastLevel = *p.TargetRoastLevel
	}
	if p.EquipmentID != nil {
		r.EquipmentID = *p.EquipmentID
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	return r
}

// Day returns scheduled_date as midnight UTC.
func (r ScheduledRoast) Day() (time.Time, error) {
	return ParseDate(r.ScheduledDate)
}

// ParseDate accepts a bare ISO date or a full RFC 3339 timestamp and returns
// the calendar day at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FieldError reports a malformed request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks required fields, enum membership, weight and date shape.
// An empty priority is accepted; the store defaults it.
func (r ScheduleEntryRequest) Validate() error {
	if strings.TrimSpace(r.CoffeeName) == "" {
		return FieldError{Field: "coffee_name", Reason: "required"}
	}
	if strings.TrimSpace(r.GreenCoffeeName) == "" {
		return FieldError{Field: "green_coffee_name", Reason: "required"}
	}
	if strings.TrimSpace(r.ScheduledDate) == "" {
		return FieldError{Field: "scheduled_date", Reason: "required"}
	}
	if _, err := ParseDate(r.ScheduledDate); err != nil {
		return FieldError{Field: "scheduled_date", Reason: "must be an ISO 8601 date"}
	}
	if r.GreenWeight <= 0 {
		return FieldError{Field: "green_weight", Reason: "must be greater than 0"}
	}
	if !r.TargetRoastLevel.Valid() {
		return FieldError{Field: "target_roast_level", Reason: fmt.Sprintf("unknown roast level %q", r.TargetRoastLevel)}
	}
	if strings.TrimSpace(r.EquipmentID) == "" {
		return FieldError{Field: "equipment_id", Reason: "required"}
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return FieldError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", r.Priority)}
	}
	return nil
}

// RoastedCoffee is an on-hand roasted batch from the inventory ledger.
type RoastedCoffee struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	RoastDate string  `json:"roast_date" format:"date"`
	AgeDays   int     `json:"age_days"`
}

// GreenCoffee is an on-hand green lot from the inventory ledger.
type GreenCoffee struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Origin   string  `json:"origin,omitempty"`
	Process  string  `json:"process,omitempty"`
}

type Inventory struct {
	Roasted []RoastedCoffee `json:"roasted"`
	Green   []GreenCoffee   `json:"green"`
}
