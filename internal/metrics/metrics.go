// Package metrics counts schedule operations for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roastline/internal/domain"
	"roastline/internal/schedule"
)

const namespace = "roastline"

// Collectors groups the schedule metrics registered on one registry.
type Collectors struct {
	Operations *prometheus.CounterVec
	Entries    prometheus.Gauge
	Registry   *prometheus.Registry
}

func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "operations_total",
			Help:      "Schedule store operations by operation and result.",
		}, []string{"op", "result"}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "entries",
			Help:      "Entries in the schedule as of the last list.",
		}),
		Registry: reg,
	}
	reg.MustRegister(c.Operations, c.Entries)
	return c
}

// Handler exposes the registry in the text exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// Result labels an operation outcome.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var nf schedule.NotFoundError
	var ve schedule.ValidationError
	var ac schedule.AlreadyCompletedError
	var pe schedule.PersistenceError
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &ac):
		return "conflict"
	case errors.As(err, &pe):
		return "persistence_error"
	default:
		return "error"
	}
}

// Instrumented wraps a schedule.Service and records every call.
type Instrumented struct {
	Next schedule.Service
	C    *Collectors
}

var _ schedule.Service = Instrumented{}

func (m Instrumented) observe(op string, err error) {
	m.C.Operations.WithLabelValues(op, Result(err)).Inc()
}

func (m Instrumented) Create(ctx context.Context, req domain.ScheduleEntryRequest) (domain.ScheduledRoast, error) {
	r, err := m.Next.Create(ctx, req)
	m.observe("create", err)
	return r, err
}

func (m Instrumented) Update(ctx context.Context, id string, patch domain.SchedulePatch) (domain.ScheduledRoast, error) {
	r, err := m.Next.Update(ctx, id, patch)
	m.observe("update", err)
	return r, err
}

func (m Instrumented) Complete(ctx context.Context, id string, outcome schedule.Outcome) (domain.ScheduledRoast, error) {
	r, err := m.Next.Complete(ctx, id, outcome)
	m.observe("complete", err)
	return r, err
}

func (m Instrumented) Delete(ctx context.Context, id string) error {
	err := m.Next.Delete(ctx, id)
	m.observe("delete", err)
	return err
}

func (m Instrumented) Get(ctx context.Context, id string) (domain.ScheduledRoast, error) {
	r, err := m.Next.Get(ctx, id)
	m.observe("get", err)
	return r, err
}

func (m Instrumented) List(ctx context.Context) ([]domain.ScheduledRoast, error) {
	out, err := m.Next.List(ctx)
	m.observe("list", err)
	if err == nil {
		m.C.Entries.Set(float64(len(out)))
	}
	return out, err
}

func (m Instrumented) Upcoming(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	out, err := m.Next.Upcoming(ctx, now)
	m.observe("upcoming", err)
	return out, err
}

func (m Instrumented) Overdue(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	out, err := m.Next.Overdue(ctx, now)
	m.observe("overdue", err)
	return out, err
}
