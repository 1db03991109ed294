package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"roastline/internal/domain"
)

// EnvelopeVersion is the current layout of the persisted collection.
const EnvelopeVersion = 1

// Envelope is the whole persisted collection.
type Envelope struct {
	Version int                     `json:"version"`
	SavedAt string                  `json:"saved_at,omitempty"`
	Entries []domain.ScheduledRoast `json:"entries"`
}

// Backend reads and writes the entire collection in one step. Load on a slot
// that was never written returns an empty Envelope and no error.
type Backend interface {
	Load(ctx context.Context) (Envelope, error)
	Save(ctx context.Context, env Envelope) error
}

// IDGenerator hands out entry identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() (string, error)

func (f IDFunc) NewID() (string, error) { return f() }

// Encode serializes an envelope for byte-oriented backends.
func Encode(env Envelope) ([]byte, error) {
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.Entries == nil {
		env.Entries = []domain.ScheduledRoast{}
	}
	return json.Marshal(env)
}

// Decode parses persisted bytes. Empty input is an empty collection; a bare
// JSON array is the pre-envelope layout and is read as version 0.
func Decode(data []byte) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{Version: EnvelopeVersion}, nil
	}
	if data[0] == '[' {
		var entries []domain.ScheduledRoast
		if err := json.Unmarshal(data, &entries); err != nil {
			return Envelope{}, fmt.Errorf("decode legacy schedule: %w", err)
		}
		return Envelope{Version: 0, Entries: entries}, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode schedule envelope: %w", err)
	}
	if env.Version > EnvelopeVersion {
		return Envelope{}, fmt.Errorf("%w %d", ErrUnsupportedVersion, env.Version)
	}
	return env, nil
}
