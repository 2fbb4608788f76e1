// Package memory provides a map-backed implementation of the persistence
// repositories. It is used by tests and by RESERVATIONS_STORE=memory.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/room-reservation/internal/persistence"
	"github.com/example/room-reservation/internal/scheduler"
)

// Store keeps rooms and reservations in maps guarded by a single mutex. Writes
// hold the mutex across the overlap check and the insert, which makes them
// atomic with respect to each other.
type Store struct {
	mu           sync.RWMutex
	rooms        map[string]persistence.Room
	reservations map[string]persistence.Reservation
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rooms:        make(map[string]persistence.Room),
		reservations: make(map[string]persistence.Reservation),
	}
}

// Close releases resources held by the store. No-op for the in-memory implementation.
func (s *Store) Close() error {
	return nil
}

// Ping reports whether the store can serve requests.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- RoomRepository implementation ---

// CreateRoom stores a new room.
func (s *Store) CreateRoom(ctx context.Context, room persistence.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return persistence.ErrDuplicate
	}
	if err := s.ensureUniqueNameLocked(room.ID, room.Name); err != nil {
		return err
	}

	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

// UpdateRoom replaces an existing room.
func (s *Store) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[room.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueNameLocked(room.ID, room.Name); err != nil {
		return err
	}

	room.CreatedAt = existing.CreatedAt
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Store) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Room{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}

	return cloneRoom(room), nil
}

// ListRooms returns all rooms ordered by name.
func (s *Store) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]persistence.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, cloneRoom(room))
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})

	return rooms, nil
}

// DeleteRoom removes a room that no reservation references.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return persistence.ErrNotFound
	}
	for _, res := range s.reservations {
		if res.RoomID == id {
			return persistence.ErrReferenced
		}
	}

	delete(s.rooms, id)
	return nil
}

func (s *Store) ensureUniqueNameLocked(id, name string) error {
	for existingID, room := range s.rooms {
		if existingID == id {
			continue
		}
		if strings.EqualFold(room.Name, name) {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

// --- ReservationRepository implementation ---

// InsertReservation stores a confirmed reservation unless it overlaps another
// confirmed reservation of the same room.
func (s *Store) InsertReservation(ctx context.Context, reservation persistence.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if reservation.ID == "" || reservation.Status != persistence.StatusConfirmed || !reservation.End.After(reservation.Start) {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[reservation.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.rooms[reservation.RoomID]; !ok {
		return persistence.ErrNotFound
	}

	window := scheduler.TimeWindow{Start: reservation.Start, End: reservation.End}
	if _, clash := scheduler.FirstConflict(s.bookingsLocked(reservation.RoomID), window, ""); clash {
		return persistence.ErrOverlap
	}

	s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// GetReservation retrieves a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Reservation{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(res), nil
}

// ListConfirmed returns the confirmed reservations of a room ordered by start.
func (s *Store) ListConfirmed(ctx context.Context, roomID string) ([]persistence.Reservation, error) {
	return s.ListReservations(ctx, persistence.ReservationFilter{
		RoomID: roomID,
		Status: persistence.StatusConfirmed,
	})
}

// ListReservations returns the reservations matching filter ordered by start.
func (s *Store) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []persistence.Reservation
	for _, res := range s.reservations {
		if matchesReservationFilter(res, filter) {
			result = append(result, cloneReservation(res))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Start.Equal(result[j].Start) {
			return result[i].ID < result[j].ID
		}
		return result[i].Start.Before(result[j].Start)
	})

	return result, nil
}

// CancelReservation marks a confirmed reservation cancelled.
func (s *Store) CancelReservation(ctx context.Context, id string, cancelledAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if res.Status != persistence.StatusConfirmed {
		return persistence.ErrStatusConflict
	}

	res.Status = persistence.StatusCancelled
	res.UpdatedAt = cancelledAt
	res.CancelledAt = &cancelledAt
	s.reservations[id] = res
	return nil
}

// RescheduleReservation moves a confirmed reservation to a new window.
func (s *Store) RescheduleReservation(ctx context.Context, id string, start, end, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !end.After(start) {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if res.Status != persistence.StatusConfirmed {
		return persistence.ErrStatusConflict
	}

	window := scheduler.TimeWindow{Start: start, End: end}
	if _, clash := scheduler.FirstConflict(s.bookingsLocked(res.RoomID), window, id); clash {
		return persistence.ErrOverlap
	}

	res.Start = start
	res.End = end
	res.UpdatedAt = updatedAt
	s.reservations[id] = res
	return nil
}

func (s *Store) bookingsLocked(roomID string) []scheduler.Booking {
	var bookings []scheduler.Booking
	for _, res := range s.reservations {
		if res.RoomID != roomID || res.Status != persistence.StatusConfirmed {
			continue
		}
		bookings = append(bookings, scheduler.Booking{
			ID:     res.ID,
			Window: scheduler.TimeWindow{Start: res.Start, End: res.End},
		})
	}
	return bookings
}

// --- Helpers ---

func cloneRoom(room persistence.Room) persistence.Room {
	room.Features = slices.Clone(room.Features)
	return room
}

func cloneReservation(res persistence.Reservation) persistence.Reservation {
	if res.CancelledAt != nil {
		cancelledAt := *res.CancelledAt
		res.CancelledAt = &cancelledAt
	}
	return res
}

func matchesReservationFilter(res persistence.Reservation, filter persistence.ReservationFilter) bool {
	if filter.RoomID != "" && res.RoomID != filter.RoomID {
		return false
	}
	if filter.OwnerID != "" && res.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Status != "" && res.Status != filter.Status {
		return false
	}
	if filter.From != nil && !res.End.After(*filter.From) {
		return false
	}
	if filter.To != nil && !res.Start.Before(*filter.To) {
		return false
	}
	return true
}
