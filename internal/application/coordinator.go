package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxPurposeLength bounds the free text stored with a reservation.
const maxPurposeLength = 500

// Stage is a step of the booking state machine.
type Stage int

const (
	StageReceived Stage = iota
	StageAuthenticated
	StageRoomValidated
	StageAvailabilityChecked
	StageCommitted
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageAuthenticated:
		return "authenticated"
	case StageRoomValidated:
		return "room_validated"
	case StageAvailabilityChecked:
		return "availability_checked"
	case StageCommitted:
		return "committed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports the booking stage that could not be reached and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("booking stopped before %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// CredentialResolver turns a raw credential into a principal or fails with
// ErrUnauthenticated.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

type roomCatalog interface {
	Get(ctx context.Context, roomID string) (Room, error)
}

type reservationLedger interface {
	Commit(ctx context.Context, params CommitParams) (Reservation, error)
	Cancel(ctx context.Context, reservationID string, requester Principal) (Reservation, error)
	Reschedule(ctx context.Context, reservationID string, requester Principal, window TimeWindow) (Reservation, error)
	Get(ctx context.Context, reservationID string) (Reservation, error)
	List(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// BookingCoordinator drives a booking request through authentication, room
// validation and the ledger commit. The availability check is part of the
// commit; the coordinator never consults the planner.
type BookingCoordinator struct {
	resolver CredentialResolver
	catalog  roomCatalog
	ledger   reservationLedger
	events   EventPublisher
	now      func() time.Time
	logger   *slog.Logger
}

// NewBookingCoordinator constructs a coordinator with the provided dependencies.
func NewBookingCoordinator(resolver CredentialResolver, catalog roomCatalog, ledger reservationLedger, events EventPublisher, now func() time.Time) *BookingCoordinator {
	return NewBookingCoordinatorWithLogger(resolver, catalog, ledger, events, now, nil)
}

// NewBookingCoordinatorWithLogger constructs a coordinator with a specified logger.
func NewBookingCoordinatorWithLogger(resolver CredentialResolver, catalog roomCatalog, ledger reservationLedger, events EventPublisher, now func() time.Time, logger *slog.Logger) *BookingCoordinator {
	if now == nil {
		now = time.Now
	}
	logger = defaultLogger(logger)
	if events == nil {
		events = NewLogPublisher(logger)
	}
	return &BookingCoordinator{
		resolver: resolver,
		catalog:  catalog,
		ledger:   ledger,
		events:   events,
		now:      now,
		logger:   logger,
	}
}

func (c *BookingCoordinator) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "BookingCoordinator", operation, attrs...)
}

func (c *BookingCoordinator) ready() error {
	if c == nil {
		return fmt.Errorf("BookingCoordinator is nil")
	}
	if c.resolver == nil || c.catalog == nil || c.ledger == nil {
		return fmt.Errorf("booking coordinator not configured")
	}
	return nil
}

// Book authenticates the caller, checks that the room exists and is active,
// and commits the reservation. Every failure is a *StageError naming the
// stage that was not reached.
func (c *BookingCoordinator) Book(ctx context.Context, req BookRequest) (reservation Reservation, err error) {
	if err = c.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "BookingCoordinator.Book",
		trace.WithAttributes(attribute.String("room.id", req.RoomID)),
	)
	logger := c.loggerWith(ctx, "Book", "room_id", req.RoomID)
	stage := StageReceived
	defer func() {
		span.SetAttributes(attribute.String("booking.stage", stage.String()))
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "booking failed", "error", err, "error_kind", ErrorKind(err), "stage", stage.String())
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "booking committed")
	}()

	fail := func(at Stage, cause error) error {
		return &StageError{Stage: at, Err: cause}
	}

	principal, err := c.resolve(ctx, req.Credential)
	if err != nil {
		err = fail(StageAuthenticated, err)
		return
	}
	stage = StageAuthenticated
	logger = logger.With("principal_id", principal.UserID)

	vErr := validateWindow(req.Window)
	vErr.merge(validatePurpose(req.Purpose))
	if strings.TrimSpace(req.RoomID) == "" {
		vErr.add("room_id", "room_id is required")
	}
	if vErr.HasErrors() {
		err = fail(StageRoomValidated, vErr)
		return
	}

	room, err := c.catalog.Get(ctx, req.RoomID)
	if err != nil {
		err = fail(StageRoomValidated, err)
		return
	}
	if !room.Active {
		err = fail(StageRoomValidated, ErrRoomInactive)
		return
	}
	stage = StageRoomValidated

	reservation, err = c.ledger.Commit(ctx, CommitParams{
		RoomID:  room.ID,
		Owner:   principal,
		Window:  req.Window,
		Purpose: req.Purpose,
	})
	if err != nil {
		err = fail(commitFailureStage(err), err)
		return
	}
	stage = StageCommitted
	span.SetAttributes(attribute.String("reservation.id", reservation.ID))

	c.publish(ctx, logger, newBookingEvent(BookingPlaced, reservation, principal, c.now().UTC()))
	return
}

// commitFailureStage classifies a ledger commit failure.
func commitFailureStage(err error) Stage {
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrOverlap):
		return StageAvailabilityChecked
	case errors.Is(err, ErrRoomNotFound), errors.As(err, &vErr):
		return StageRoomValidated
	default:
		return StageCommitted
	}
}

// Cancel authenticates the caller and cancels the reservation.
func (c *BookingCoordinator) Cancel(ctx context.Context, credential, reservationID string) (err error) {
	if err = c.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "BookingCoordinator.Cancel",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)),
	)
	logger := c.loggerWith(ctx, "Cancel", "reservation_id", reservationID)
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "cancel failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled")
	}()

	principal, err := c.resolve(ctx, credential)
	if err != nil {
		return
	}

	cancelled, err := c.ledger.Cancel(ctx, reservationID, principal)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.String("room.id", cancelled.RoomID))

	c.publish(ctx, logger, newBookingEvent(BookingCancelled, cancelled, principal, c.now().UTC()))
	return
}

// Reschedule authenticates the caller and moves the reservation to window,
// provided its room still accepts reservations.
func (c *BookingCoordinator) Reschedule(ctx context.Context, credential, reservationID string, window TimeWindow) (reservation Reservation, err error) {
	if err = c.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "BookingCoordinator.Reschedule",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)),
	)
	logger := c.loggerWith(ctx, "Reschedule", "reservation_id", reservationID)
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "reschedule failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation rescheduled")
	}()

	principal, err := c.resolve(ctx, credential)
	if err != nil {
		return
	}
	if vErr := validateWindow(window); vErr.HasErrors() {
		err = vErr
		return
	}

	existing, err := c.ledger.Get(ctx, reservationID)
	if err != nil {
		return
	}
	if !canAccess(principal, existing) {
		err = ErrNotOwner
		return
	}
	span.SetAttributes(attribute.String("room.id", existing.RoomID))

	room, err := c.catalog.Get(ctx, existing.RoomID)
	if err != nil {
		return
	}
	if !room.Active {
		err = ErrRoomInactive
		return
	}

	reservation, err = c.ledger.Reschedule(ctx, reservationID, principal, window)
	if err != nil {
		return
	}

	c.publish(ctx, logger, newBookingEvent(BookingRescheduled, reservation, principal, c.now().UTC()))
	return
}

// Get returns a reservation to its owner or an administrator.
func (c *BookingCoordinator) Get(ctx context.Context, credential, reservationID string) (Reservation, error) {
	if err := c.ready(); err != nil {
		return Reservation{}, err
	}

	principal, err := c.resolve(ctx, credential)
	if err != nil {
		return Reservation{}, err
	}

	reservation, err := c.ledger.Get(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if !canAccess(principal, reservation) {
		return Reservation{}, ErrNotOwner
	}
	return reservation, nil
}

// List returns reservations matching filter. Administrators see every
// reservation; anyone else only their own.
func (c *BookingCoordinator) List(ctx context.Context, credential string, filter ReservationFilter) ([]Reservation, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	principal, err := c.resolve(ctx, credential)
	if err != nil {
		return nil, err
	}

	if !principal.IsAdmin() {
		if filter.OwnerID != "" && filter.OwnerID != principal.UserID {
			return nil, ErrNotOwner
		}
		filter.OwnerID = principal.UserID
	}

	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		vErr := &ValidationError{}
		vErr.add("to", "to must be after from")
		return nil, vErr
	}

	return c.ledger.List(ctx, filter)
}

// resolve guarantees that every authentication failure matches
// ErrUnauthenticated. A caller that went away is not an authentication
// failure: cancellation passes through and an expired deadline is transient.
func (c *BookingCoordinator) resolve(ctx context.Context, credential string) (Principal, error) {
	principal, err := c.resolver.Resolve(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) || errors.Is(err, context.Canceled) {
			return Principal{}, err
		}
		if mapped, ok := transientError(err); ok {
			return Principal{}, mapped
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !principal.Authenticated() {
		return Principal{}, ErrUnauthenticated
	}
	return principal, nil
}

func (c *BookingCoordinator) publish(ctx context.Context, logger *slog.Logger, event BookingEvent) {
	if err := c.events.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish booking event", "error", err, "event_type", string(event.Type))
	}
}

func canAccess(principal Principal, reservation Reservation) bool {
	return reservation.OwnerID == principal.UserID || principal.IsAdmin()
}

func validatePurpose(purpose string) *ValidationError {
	vErr := &ValidationError{}
	if len([]rune(strings.TrimSpace(purpose))) > maxPurposeLength {
		vErr.add("purpose", fmt.Sprintf("purpose must be at most %d characters", maxPurposeLength))
	}
	return vErr
}
