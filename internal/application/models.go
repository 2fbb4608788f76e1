package application

import (
	"slices"
	"strings"
	"time"

	"github.com/example/room-reservation/internal/scheduler"
)

// Role names carried in credentials.
const (
	RoleAdmin   = "ADMIN"
	RoleStaff   = "STAFF"
	RoleFaculty = "FACULTY"
	RoleStudent = "STUDENT"
	RoleService = "SERVICE"
)

// roleAdminAlias is accepted in place of RoleAdmin.
const roleAdminAlias = "administrator"

// Principal represents the authenticated actor making a request.
type Principal struct {
	UserID string
	Roles  []string
}

// IsAdmin reports whether the principal holds the administrator role.
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(roleAdminAlias)
}

// HasRole reports whether the principal carries role, ignoring case.
func (p Principal) HasRole(role string) bool {
	return slices.ContainsFunc(p.Roles, func(r string) bool {
		return strings.EqualFold(strings.TrimSpace(r), role)
	})
}

// Authenticated reports whether the principal identifies a caller.
func (p Principal) Authenticated() bool {
	return strings.TrimSpace(p.UserID) != ""
}

// TimeWindow is the half-open interval a reservation occupies.
type TimeWindow = scheduler.TimeWindow

// RoomInput carries the mutable room attributes supplied by administrators.
type RoomInput struct {
	Name     string
	Capacity int
	Features []string
	// Active defaults to true on create and is left unchanged on update when nil.
	Active *bool
}

// Room describes a bookable room.
type Room struct {
	ID        string
	Name      string
	Capacity  int
	Features  []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}

// UpdateRoomParams wraps the data required to update a room.
type UpdateRoomParams struct {
	Principal Principal
	RoomID    string
	Input     RoomInput
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is a booking of one room for one window.
type Reservation struct {
	ID          string
	RoomID      string
	OwnerID     string
	Window      TimeWindow
	Status      ReservationStatus
	Purpose     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// CommitParams describes a reservation to be written by the ledger.
type CommitParams struct {
	RoomID  string
	Owner   Principal
	Window  TimeWindow
	Purpose string
}

// ReservationFilter narrows reservation listings. Zero values match everything.
type ReservationFilter struct {
	RoomID  string
	OwnerID string
	Status  ReservationStatus
	From    *time.Time
	To      *time.Time
}

// BookRequest is the input of BookingCoordinator.Book.
type BookRequest struct {
	Credential string
	RoomID     string
	Window     TimeWindow
	Purpose    string
}

// ServiceConfig tunes the resource bounds shared by the services.
type ServiceConfig struct {
	// StoreTimeout bounds every backing store call and room lock wait.
	StoreTimeout       time.Duration
	RoomCacheTTL       time.Duration
	RoomCacheSize      int
	PlannerParallelism int
}

// DefaultServiceConfig returns the bounds used when none are configured.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StoreTimeout:       2 * time.Second,
		RoomCacheTTL:       30 * time.Second,
		RoomCacheSize:      256,
		PlannerParallelism: 8,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	if c.RoomCacheTTL <= 0 {
		c.RoomCacheTTL = def.RoomCacheTTL
	}
	if c.RoomCacheSize <= 0 {
		c.RoomCacheSize = def.RoomCacheSize
	}
	if c.PlannerParallelism <= 0 {
		c.PlannerParallelism = def.PlannerParallelism
	}
	return c
}
