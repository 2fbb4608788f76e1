package application

import (
	"context"
	"log/slog"
	"time"
)

// BookingEventType names a reservation lifecycle change.
type BookingEventType string

const (
	BookingPlaced      BookingEventType = "booking.placed"
	BookingCancelled   BookingEventType = "booking.cancelled"
	BookingRescheduled BookingEventType = "booking.rescheduled"
)

// BookingEvent is published after a reservation change has been committed.
type BookingEvent struct {
	Type          BookingEventType
	ReservationID string
	RoomID        string
	OwnerID       string
	ActorID       string
	Window        TimeWindow
	OccurredAt    time.Time
}

// EventPublisher delivers booking events to interested parties. Publishing
// happens after the change is durable, so a failure never undoes it.
type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

// LogPublisher writes each event as a structured log record.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher writing to logger, or the default logger when nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: defaultLogger(logger)}
}

// Publish implements EventPublisher.
func (p *LogPublisher) Publish(ctx context.Context, event BookingEvent) error {
	p.logger.InfoContext(ctx, "booking event",
		"event_type", string(event.Type),
		"reservation_id", event.ReservationID,
		"room_id", event.RoomID,
		"owner_id", event.OwnerID,
		"actor_id", event.ActorID,
		"start", event.Window.Start,
		"end", event.Window.End,
		"occurred_at", event.OccurredAt,
	)
	return nil
}

func newBookingEvent(eventType BookingEventType, res Reservation, actor Principal, at time.Time) BookingEvent {
	return BookingEvent{
		Type:          eventType,
		ReservationID: res.ID,
		RoomID:        res.RoomID,
		OwnerID:       res.OwnerID,
		ActorID:       actor.UserID,
		Window:        res.Window,
		OccurredAt:    at,
	}
}
