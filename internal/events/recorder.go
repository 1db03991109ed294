package events

import (
	"context"
	"log"
	"time"

	"roastline/internal/domain"
	"roastline/internal/schedule"
)

type actorKey struct{}

// WithActor tags ctx with who is changing the schedule.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "local-user"
}

// Recorder appends an event after every successful mutation. An event that
// cannot be written is logged; the mutation has already been saved.
type Recorder struct {
	Next   schedule.Service
	W      Writer
	Logger *log.Logger
}

var _ schedule.Service = Recorder{}

func (r Recorder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r Recorder) record(ctx context.Context, evtType, roastID string, payload Payload) {
	if err := r.W.Append(ctx, evtType, roastID, ActorFrom(ctx), payload); err != nil {
		r.logger().Printf("events: append %s for %s failed: %v", evtType, roastID, err)
	}
}

func (r Recorder) Create(ctx context.Context, req domain.ScheduleEntryRequest) (domain.ScheduledRoast, error) {
	out, err := r.Next.Create(ctx, req)
	if err == nil {
		r.record(ctx, TypeScheduled, out.ID, Payload{"scheduled_date": out.ScheduledDate, "coffee_name": out.CoffeeName})
	}
	return out, err
}

func (r Recorder) Update(ctx context.Context, id string, patch domain.SchedulePatch) (domain.ScheduledRoast, error) {
	out, err := r.Next.Update(ctx, id, patch)
	if err == nil {
		r.record(ctx, TypeUpdated, id, Payload{
			"scheduled_date": out.ScheduledDate,
			"changes":        changes(patch, out),
		})
	}
	return out, err
}

// changes lists the patched fields with their stored values.
func changes(p domain.SchedulePatch, out domain.ScheduledRoast) map[string]any {
	c := map[string]any{}
	if p.CoffeeName != nil {
		c["coffee_name"] = out.CoffeeName
	}
	if p.GreenCoffeeName != nil {
		c["green_coffee_name"] = out.GreenCoffeeName
	}
	if p.ScheduledDate != nil {
		c["scheduled_date"] = out.ScheduledDate
	}
	if p.GreenWeight != nil {
		c["green_weight"] = out.GreenWeight
	}
	if p.TargetRoastLevel != nil {
		c["target_roast_level"] = string(out.TargetRoastLevel)
	}
	if p.EquipmentID != nil {
		c["equipment_id"] = out.EquipmentID
	}
	if p.Notes != nil {
		c["notes"] = out.Notes
	}
	if p.Priority != nil {
		c["priority"] = string(out.Priority)
	}
	return c
}

// Complete forwards the outcome to the outbox; the schedule itself does not
// keep it.
func (r Recorder) Complete(ctx context.Context, id string, outcome schedule.Outcome) (domain.ScheduledRoast, error) {
	out, err := r.Next.Complete(ctx, id, outcome)
	if err == nil {
		payload := Payload{
			"coffee_name":       out.CoffeeName,
			"green_coffee_name": out.GreenCoffeeName,
			"green_weight":      out.GreenWeight,
		}
		if out.CompletedDate != nil {
			payload["completed_date"] = *out.CompletedDate
		}
		if len(outcome) > 0 {
			payload["outcome"] = map[string]any(outcome)
		}
		r.record(ctx, TypeCompleted, id, payload)
	}
	return out, err
}

func (r Recorder) Delete(ctx context.Context, id string) error {
	err := r.Next.Delete(ctx, id)
	if err == nil {
		r.record(ctx, TypeDeleted, id, nil)
	}
	return err
}

func (r Recorder) Get(ctx context.Context, id string) (domain.ScheduledRoast, error) {
	return r.Next.Get(ctx, id)
}

func (r Recorder) List(ctx context.Context) ([]domain.ScheduledRoast, error) {
	return r.Next.List(ctx)
}

func (r Recorder) Upcoming(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	return r.Next.Upcoming(ctx, now)
}

func (r Recorder) Overdue(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	return r.Next.Overdue(ctx, now)
}
