// Package memory keeps the schedule collection in process memory.
package memory

import (
	"context"
	"sync"

	"roastline/internal/domain"
	"roastline/internal/schedule"
)

var _ schedule.Backend = (*Backend)(nil)

// Backend is an in-process slot. LoadErr and SaveErr, when set, are returned
// instead of touching the slot.
type Backend struct {
	mu      sync.Mutex
	env     schedule.Envelope
	LoadErr error
	SaveErr error
	Saves   int
}

func New() *Backend {
	return &Backend{env: schedule.Envelope{Version: schedule.EnvelopeVersion}}
}

func (b *Backend) Load(_ context.Context) (schedule.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LoadErr != nil {
		return schedule.Envelope{}, b.LoadErr
	}
	return clone(b.env), nil
}

func (b *Backend) Save(_ context.Context, env schedule.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SaveErr != nil {
		return b.SaveErr
	}
	b.env = clone(env)
	b.Saves++
	return nil
}

func clone(env schedule.Envelope) schedule.Envelope {
	out := env
	out.Entries = make([]domain.ScheduledRoast, len(env.Entries))
	for i, e := range env.Entries {
		if e.CompletedDate != nil {
			ts := *e.CompletedDate
			e.CompletedDate = &ts
		}
		out.Entries[i] = e
	}
	return out
}
