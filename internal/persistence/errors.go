package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key or name is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record breaks a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrReferenced is returned when deleting a record that other records still point to.
	ErrReferenced = errors.New("persistence: record is referenced")
	// ErrOverlap is returned when a confirmed reservation would intersect another in the same room.
	ErrOverlap = errors.New("persistence: overlapping reservation")
	// ErrStatusConflict is returned when a conditional status transition finds an unexpected status.
	ErrStatusConflict = errors.New("persistence: status conflict")
	// ErrUnavailable is returned when the backing store is busy, locked, or unreachable.
	ErrUnavailable = errors.New("persistence: store unavailable")
)
