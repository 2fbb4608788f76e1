package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/room-reservation/internal/persistence"
)

var (
	// ErrUnauthenticated is returned when a credential is absent, malformed, expired, or forged.
	ErrUnauthenticated = errors.New("application: unauthenticated")
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotOwner is returned when a principal acts on a reservation it neither owns nor administers.
	ErrNotOwner = errors.New("application: not the reservation owner")
	// ErrRoomNotFound is returned when the room does not exist.
	ErrRoomNotFound = errors.New("application: room not found")
	// ErrReservationNotFound is returned when the reservation does not exist.
	ErrReservationNotFound = errors.New("application: reservation not found")
	// ErrRoomInactive is returned when booking a room that accepts no new reservations.
	ErrRoomInactive = errors.New("application: room is inactive")
	// ErrOverlap is returned when a confirmed reservation already holds part of the window.
	ErrOverlap = errors.New("application: window overlaps an existing reservation")
	// ErrAlreadyCancelled is returned when cancelling or moving a cancelled reservation.
	ErrAlreadyCancelled = errors.New("application: reservation already cancelled")
	// ErrRoomInUse is returned when deleting a room that reservations still reference.
	ErrRoomInUse = errors.New("application: room has reservations")
	// ErrAlreadyExists is returned when a unique identifier or room name is taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrTransient is returned when the store is busy or did not answer in time. Retrying may succeed.
	ErrTransient = errors.New("application: temporarily unavailable")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// transientError converts store outages and exhausted deadlines into
// ErrTransient, keeping the cause in the message.
func transientError(err error) (error, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, persistence.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrTransient, err), true
	}
	return err, false
}
