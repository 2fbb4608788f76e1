package persistence

import "time"

// Reservation statuses stored alongside each record.
const (
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// Room represents a bookable room catalog entry.
type Room struct {
	ID        string
	Name      string
	Capacity  int
	Features  []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation represents a time-bounded booking of a room.
type Reservation struct {
	ID          string
	RoomID      string
	OwnerID     string
	Start       time.Time
	End         time.Time
	Status      string
	Purpose     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}
