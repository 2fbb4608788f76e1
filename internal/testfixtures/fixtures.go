package testfixtures

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/persistence"
)

var (
	roomCounter        uint64
	reservationCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Day returns midnight UTC of the reference day.
func Day() time.Time {
	return referenceTime.Truncate(24 * time.Hour)
}

// Window returns [startHour:startMinute, endHour:endMinute) on the reference day.
func Window(startHour, startMinute, endHour, endMinute int) application.TimeWindow {
	day := Day()
	return application.TimeWindow{
		Start: day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMinute)*time.Minute),
		End:   day.Add(time.Duration(endHour)*time.Hour + time.Duration(endMinute)*time.Minute),
	}
}

// Admin returns an administrator principal.
func Admin() application.Principal {
	return application.Principal{UserID: "admin", Roles: []string{application.RoleAdmin}}
}

// Member returns a principal holding role, STUDENT when role is empty.
func Member(userID, role string) application.Principal {
	if role == "" {
		role = application.RoleStudent
	}
	return application.Principal{UserID: userID, Roles: []string{role}}
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic room record.
type RoomFixture struct {
	ID        string
	Name      string
	Capacity  int
	Features  []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns an active room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	fixture := RoomFixture{
		ID:        fmt.Sprintf("room-%03d", idx),
		Name:      fmt.Sprintf("Room %03d", idx),
		Capacity:  int(4 + idx%4),
		Features:  []string{"whiteboard"},
		Active:    true,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithRoomCapacity overrides the generated capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) {
		f.Capacity = capacity
	}
}

// WithRoomFeatures replaces the feature list.
func WithRoomFeatures(features ...string) RoomOption {
	return func(f *RoomFixture) {
		f.Features = slices.Clone(features)
	}
}

// Inactive marks the room as not accepting reservations.
func Inactive() RoomOption {
	return func(f *RoomFixture) {
		f.Active = false
	}
}

// Application returns the fixture as an application.Room value.
func (f RoomFixture) Application() application.Room {
	return application.Room{
		ID:        f.ID,
		Name:      f.Name,
		Capacity:  f.Capacity,
		Features:  slices.Clone(f.Features),
		Active:    f.Active,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Name:      f.Name,
		Capacity:  f.Capacity,
		Features:  slices.Clone(f.Features),
		Active:    f.Active,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Input returns the fixture as an application.RoomInput.
func (f RoomFixture) Input() application.RoomInput {
	active := f.Active
	return application.RoomInput{
		Name:     f.Name,
		Capacity: f.Capacity,
		Features: slices.Clone(f.Features),
		Active:   &active,
	}
}

// -------------------------- Reservation fixtures --------------------------

// ReservationFixture represents a deterministic reservation record.
type ReservationFixture struct {
	ID          string
	RoomID      string
	OwnerID     string
	Window      application.TimeWindow
	Status      application.ReservationStatus
	Purpose     string
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns a confirmed 09:00-10:00 reservation of roomID.
func NewReservationFixture(roomID string, opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	fixture := ReservationFixture{
		ID:        fmt.Sprintf("res-%03d", idx),
		RoomID:    roomID,
		OwnerID:   "alice",
		Window:    Window(9, 0, 10, 0),
		Status:    application.ReservationConfirmed,
		Purpose:   "team sync",
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(f *ReservationFixture) {
		f.ID = id
	}
}

// OwnedBy sets the reservation owner.
func OwnedBy(ownerID string) ReservationOption {
	return func(f *ReservationFixture) {
		f.OwnerID = ownerID
	}
}

// During sets the reservation window.
func During(window application.TimeWindow) ReservationOption {
	return func(f *ReservationFixture) {
		f.Window = window
	}
}

// Cancelled marks the reservation cancelled at the given instant.
func Cancelled(at time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.Status = application.ReservationCancelled
		f.CancelledAt = &at
	}
}

// Persistence returns the fixture as a persistence.Reservation value.
func (f ReservationFixture) Persistence() persistence.Reservation {
	res := persistence.Reservation{
		ID:        f.ID,
		RoomID:    f.RoomID,
		OwnerID:   f.OwnerID,
		Start:     f.Window.Start,
		End:       f.Window.End,
		Status:    string(f.Status),
		Purpose:   f.Purpose,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
	}
	if f.CancelledAt != nil {
		at := *f.CancelledAt
		res.CancelledAt = &at
		res.UpdatedAt = at
	}
	return res
}

// CommitParams returns the fixture as ledger input for owner.
func (f ReservationFixture) CommitParams() application.CommitParams {
	return application.CommitParams{
		RoomID:  f.RoomID,
		Owner:   application.Principal{UserID: f.OwnerID},
		Window:  f.Window,
		Purpose: f.Purpose,
	}
}
