package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"roastline/internal/domain"
)

// DefaultUpcomingWindow is how far ahead Upcoming looks.
const DefaultUpcomingWindow = 7 * 24 * time.Hour

// Outcome is the roast result handed to Complete. The store accepts it but
// the inventory ledger owns roast results, so it is not persisted here.
type Outcome map[string]any

// Service is the schedule surface consumed by the API, CLI and metrics.
type Service interface {
	Create(ctx context.Context, req domain.ScheduleEntryRequest) (domain.ScheduledRoast, error)
	Update(ctx context.Context, id string, patch domain.SchedulePatch) (domain.ScheduledRoast, error)
	Complete(ctx context.Context, id string, outcome Outcome) (domain.ScheduledRoast, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.ScheduledRoast, error)
	List(ctx context.Context) ([]domain.ScheduledRoast, error)
	Upcoming(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error)
	Overdue(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error)
}

var _ Service = (*Store)(nil)

// Store owns the schedule collection. Every call reloads the whole collection
// from Backend; mutations write it back in full. Calls are serialized.
type Store struct {
	Backend          Backend
	IDs              IDGenerator
	Now              func() time.Time
	Logger           *log.Logger
	UpcomingWindow   time.Duration
	StrictCompletion bool

	mu sync.Mutex
}

func New(b Backend) *Store {
	return &Store{
		Backend:        b,
		IDs:            UUIDGenerator{},
		Now:            time.Now,
		UpcomingWindow: DefaultUpcomingWindow,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Store) window() time.Duration {
	if s.UpcomingWindow > 0 {
		return s.UpcomingWindow
	}
	return DefaultUpcomingWindow
}

// load reads an unreadable collection as empty and logs it. The error is
// still returned so mutations can refuse to write over newer data.
func (s *Store) load(ctx context.Context) ([]domain.ScheduledRoast, error) {
	env, err := s.Backend.Load(ctx)
	if err != nil {
		s.logger().Printf("schedule: load failed, continuing with empty collection: %v", err)
		return nil, err
	}
	out := make([]domain.ScheduledRoast, len(env.Entries))
	copy(out, env.Entries)
	return out, nil
}

// loadForWrite is load for mutations. Data from a newer release is not
// replaced by an empty collection.
func (s *Store) loadForWrite(ctx context.Context, op string) ([]domain.ScheduledRoast, error) {
	entries, err := s.load(ctx)
	if errors.Is(err, ErrUnsupportedVersion) {
		return nil, PersistenceError{Op: op, Err: err}
	}
	return entries, nil
}

func (s *Store) read(ctx context.Context) []domain.ScheduledRoast {
	entries, _ := s.load(ctx)
	return entries
}

func (s *Store) save(ctx context.Context, op string, entries []domain.ScheduledRoast) error {
	env := Envelope{
		Version: EnvelopeVersion,
		SavedAt: s.now().UTC().Format(domain.TimestampLayout),
		Entries: entries,
	}
	if err := s.Backend.Save(ctx, env); err != nil {
		return PersistenceError{Op: op, Err: err}
	}
	return nil
}

func indexOf(entries []domain.ScheduledRoast, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

func validate(req domain.ScheduleEntryRequest) error {
	err := req.Validate()
	if err == nil {
		return nil
	}
	var fe domain.FieldError
	if errors.As(err, &fe) {
		return ValidationError{Field: fe.Field, Reason: fe.Reason}
	}
	return ValidationError{Reason: err.Error()}
}

func (s *Store) newID(entries []domain.ScheduledRoast) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := s.IDs.NewID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		if id != "" && indexOf(entries, id) < 0 {
			return id, nil
		}
	}
	return "", errors.New("generate id: could not obtain a unique id")
}

func (s *Store) Create(ctx context.Context, req domain.ScheduleEntryRequest) (domain.ScheduledRoast, error) {
	if err := validate(req); err != nil {
		return domain.ScheduledRoast{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite(ctx, "create")
	if err != nil {
		return domain.ScheduledRoast{}, err
	}
	id, err := s.newID(entries)
	if err != nil {
		return domain.ScheduledRoast{}, err
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	r := domain.ScheduledRoast{
		ID:               id,
		CoffeeName:       req.CoffeeName,
		GreenCoffeeName:  req.GreenCoffeeName,
		ScheduledDate:    req.ScheduledDate,
		GreenWeight:      req.GreenWeight,
		TargetRoastLevel: req.TargetRoastLevel,
		EquipmentID:      req.EquipmentID,
		Notes:            req.Notes,
		Priority:         priority,
		Completed:        false,
		CreatedAt:        s.now().UTC().Format(domain.TimestampLayout),
	}
	entries = append(entries, r)
	if err := s.save(ctx, "create", entries); err != nil {
		return domain.ScheduledRoast{}, err
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, id string, patch domain.SchedulePatch) (domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite(ctx, "update")
	if err != nil {
		return domain.ScheduledRoast{}, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return domain.ScheduledRoast{}, NotFoundError{ID: id}
	}
	updated := entries[i].Apply(patch)
	if updated.Priority == "" {
		updated.Priority = domain.PriorityMedium
	}
	if err := validate(updated.Request()); err != nil {
		return domain.ScheduledRoast{}, err
	}
	entries[i] = updated
	if err := s.save(ctx, "update", entries); err != nil {
		return domain.ScheduledRoast{}, err
	}
	return updated, nil
}

func (s *Store) Complete(ctx context.Context, id string, _ Outcome) (domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite(ctx, "complete")
	if err != nil {
		return domain.ScheduledRoast{}, err
	}
	i := indexOf(entries, id)
	if i < 0 {
		return domain.ScheduledRoast{}, NotFoundError{ID: id}
	}
	if entries[i].Completed && s.StrictCompletion {
		return domain.ScheduledRoast{}, AlreadyCompletedError{ID: id}
	}
	ts := s.now().UTC().Format(domain.TimestampLayout)
	entries[i].Completed = true
	entries[i].CompletedDate = &ts
	if err := s.save(ctx, "complete", entries); err != nil {
		return domain.ScheduledRoast{}, err
	}
	return entries[i], nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite(ctx, "delete")
	if err != nil {
		return err
	}
	kept := make([]domain.ScheduledRoast, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return NotFoundError{ID: id}
	}
	return s.save(ctx, "delete", kept)
}

func (s *Store) Get(ctx context.Context, id string) (domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read(ctx)
	i := indexOf(entries, id)
	if i < 0 {
		return domain.ScheduledRoast{}, NotFoundError{ID: id}
	}
	return entries[i], nil
}

// List returns every entry by scheduled date, keeping insertion order on ties.
func (s *Store) List(ctx context.Context) ([]domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.read(ctx)), nil
}

// Upcoming returns incomplete entries dated within [now, now+window].
func (s *Store) Upcoming(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := now.Add(s.window())
	return filter(sorted(s.read(ctx)), func(day time.Time) bool {
		return !day.Before(now) && !day.After(until)
	}), nil
}

// Overdue returns incomplete entries dated before the start of now's day.
func (s *Store) Overdue(ctx context.Context, now time.Time) ([]domain.ScheduledRoast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := StartOfDay(now)
	return filter(sorted(s.read(ctx)), func(day time.Time) bool {
		return day.Before(today)
	}), nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// sorted orders by scheduled day; unparseable dates sort first.
func sorted(entries []domain.ScheduledRoast) []domain.ScheduledRoast {
	days := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		d, _ := e.Day()
		days[e.ID] = d
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return days[entries[i].ID].Before(days[entries[j].ID])
	})
	if entries == nil {
		return []domain.ScheduledRoast{}
	}
	return entries
}

func filter(entries []domain.ScheduledRoast, match func(day time.Time) bool) []domain.ScheduledRoast {
	out := []domain.ScheduledRoast{}
	for _, e := range entries {
		if e.Completed {
			continue
		}
		day, err := e.Day()
		if err != nil {
			continue
		}
		if match(day) {
			out = append(out, e)
		}
	}
	return out
}
