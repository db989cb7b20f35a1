package application

import (
	"errors"
	"fmt"

	"github.com/example/club-scheduler/internal/persistence"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidState is returned when an operation is not allowed in the record's current state.
	ErrInvalidState = errors.New("application: invalid state")
	// ErrActivationFailed wraps scheduler or store failures during activation. Activation is safe to retry.
	ErrActivationFailed = errors.New("application: activation failed")
	// ErrInstanceNotOpen is returned when joining or leaving an instance that is no longer not_started.
	ErrInstanceNotOpen = errors.New("application: instance not open")
	// ErrTimeslotFull is returned when neither a seat nor a waitlist spot remains.
	ErrTimeslotFull = errors.New("application: timeslot full")
	// ErrAlreadyJoined is returned when the user already holds a seat or waitlist spot.
	ErrAlreadyJoined = errors.New("application: already joined")
	// ErrNotJoined is returned when leaving a timeslot the user is not part of.
	ErrNotJoined = errors.New("application: not joined")
)

// ValidationKind groups rule failures for callers.
type ValidationKind string

const (
	ValidationKindSchedule   ValidationKind = "schedule"
	ValidationKindCapacity   ValidationKind = "capacity"
	ValidationKindVisibility ValidationKind = "visibility"
)

// ValidationError reports the first rule a create or update request violated.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Code   string
	Reason string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("validation failed: %s %s: %s", v.Kind, v.Field, v.Reason)
}

// FieldErrors returns the violation keyed by field, the shape HTTP clients receive.
func (v *ValidationError) FieldErrors() map[string]string {
	if v == nil {
		return nil
	}
	return map[string]string{v.Field: v.Reason}
}

func scheduleError(field, code, reason string) *ValidationError {
	return &ValidationError{Kind: ValidationKindSchedule, Field: field, Code: code, Reason: reason}
}

func capacityError(field, code, reason string) *ValidationError {
	return &ValidationError{Kind: ValidationKindCapacity, Field: field, Code: code, Reason: reason}
}

func visibilityError(field, code, reason string) *ValidationError {
	return &ValidationError{Kind: ValidationKindVisibility, Field: field, Code: code, Reason: reason}
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
