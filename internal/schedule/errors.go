package schedule

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ErrUnsupportedVersion is returned by Decode for an envelope written by a
// newer release. The store refuses to overwrite such data.
var ErrUnsupportedVersion = errors.New("unsupported schedule envelope version")

// NotFoundError indicates the referenced schedule entry does not exist.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("scheduled roast %s not found", e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError indicates the durable write (or read) did not happen.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: persist schedule: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// AlreadyCompletedError is returned by Complete in strict mode.
type AlreadyCompletedError struct {
	ID string
}

func (e AlreadyCompletedError) Error() string {
	return fmt.Sprintf("scheduled roast %s already completed", e.ID)
}
