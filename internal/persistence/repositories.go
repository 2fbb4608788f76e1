package persistence

import (
	"context"
	"time"
)

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// ReservationFilter narrows reservation queries. Zero values match everything.
type ReservationFilter struct {
	RoomID  string
	OwnerID string
	Status  string
	// From and To select reservations whose window intersects [From, To).
	From *time.Time
	To   *time.Time
}

// ReservationRepository stores reservations. Implementations must make
// InsertReservation and RescheduleReservation atomic with respect to the
// overlap check against other confirmed reservations of the same room.
type ReservationRepository interface {
	// InsertReservation stores a confirmed reservation or fails with ErrOverlap.
	InsertReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	// ListConfirmed returns the room's confirmed reservations ordered by start.
	ListConfirmed(ctx context.Context, roomID string) ([]Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	// CancelReservation moves a confirmed reservation to cancelled or fails
	// with ErrStatusConflict when it is no longer confirmed.
	CancelReservation(ctx context.Context, id string, cancelledAt time.Time) error
	// RescheduleReservation moves a confirmed reservation to a new window, failing
	// with ErrOverlap or ErrStatusConflict.
	RescheduleReservation(ctx context.Context, id string, start, end, updatedAt time.Time) error
}
