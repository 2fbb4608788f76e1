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

	"github.com/example/room-reservation/internal/persistence"
	"github.com/example/room-reservation/internal/scheduler"
)

// ReservationLedger is the only writer of reservations. Commit, Cancel and
// Reschedule hold the room's lock from the overlap check until the store
// acknowledges the write, and the store repeats the check inside its own
// transaction.
type ReservationLedger struct {
	reservations persistence.ReservationRepository
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
	locks        *roomLocks
	storeTimeout time.Duration
}

// NewReservationLedger constructs a ledger with the provided dependencies.
func NewReservationLedger(reservations persistence.ReservationRepository, idGenerator func() string, now func() time.Time) *ReservationLedger {
	return NewReservationLedgerWithLogger(reservations, idGenerator, now, nil)
}

// NewReservationLedgerWithLogger constructs a ledger with a specified logger.
func NewReservationLedgerWithLogger(reservations persistence.ReservationRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ReservationLedger {
	return NewReservationLedgerWithConfig(reservations, idGenerator, now, logger, DefaultServiceConfig())
}

// NewReservationLedgerWithConfig constructs a ledger with an explicit store timeout.
func NewReservationLedgerWithConfig(reservations persistence.ReservationRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger, cfg ServiceConfig) *ReservationLedger {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	return &ReservationLedger{
		reservations: reservations,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
		locks:        newRoomLocks(),
		storeTimeout: cfg.StoreTimeout,
	}
}

func (l *ReservationLedger) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, l.logger, "ReservationLedger", operation, attrs...)
}

func (l *ReservationLedger) ready() error {
	if l == nil {
		return fmt.Errorf("ReservationLedger is nil")
	}
	if l.reservations == nil {
		return fmt.Errorf("reservation repository not configured")
	}
	return nil
}

// ListActive returns the room's confirmed reservations ordered by start.
func (l *ReservationLedger) ListActive(ctx context.Context, roomID string) ([]Reservation, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	records, err := l.reservations.ListConfirmed(storeCtx, roomID)
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return toReservations(records), nil
}

// Get returns a reservation in any status.
func (l *ReservationLedger) Get(ctx context.Context, reservationID string) (Reservation, error) {
	if err := l.ready(); err != nil {
		return Reservation{}, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	record, err := l.reservations.GetReservation(storeCtx, strings.TrimSpace(reservationID))
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	return toReservation(record), nil
}

// List returns reservations matching filter ordered by start.
func (l *ReservationLedger) List(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	records, err := l.reservations.ListReservations(storeCtx, persistence.ReservationFilter{
		RoomID:  filter.RoomID,
		OwnerID: filter.OwnerID,
		Status:  string(filter.Status),
		From:    filter.From,
		To:      filter.To,
	})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return toReservations(records), nil
}

// Commit writes a confirmed reservation for params.Owner, or fails with
// ErrOverlap when a confirmed reservation of the room intersects the window.
func (l *ReservationLedger) Commit(ctx context.Context, params CommitParams) (reservation Reservation, err error) {
	if err = l.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "ReservationLedger.Commit",
		trace.WithAttributes(attribute.String("room.id", params.RoomID)),
	)
	logger := l.loggerWith(ctx, "Commit",
		"principal_id", params.Owner.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "failed to commit reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation committed")
	}()

	if !params.Owner.Authenticated() {
		err = ErrUnauthenticated
		return
	}
	vErr := validateWindow(params.Window)
	if strings.TrimSpace(params.RoomID) == "" {
		vErr.add("room_id", "room_id is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	release, err := l.lockRoom(storeCtx, params.RoomID)
	if err != nil {
		return
	}
	defer release()

	if err = l.ensureNoOverlap(storeCtx, params.RoomID, params.Window, ""); err != nil {
		return
	}

	now := l.now().UTC()
	window := params.Window.UTC()
	reservation = Reservation{
		ID:        l.idGenerator(),
		RoomID:    params.RoomID,
		OwnerID:   params.Owner.UserID,
		Window:    window,
		Status:    ReservationConfirmed,
		Purpose:   strings.TrimSpace(params.Purpose),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err = l.reservations.InsertReservation(storeCtx, toPersistenceReservation(reservation)); err != nil {
		reservation = Reservation{}
		// A missing room surfaces from the insert as a dangling reference.
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrRoomNotFound
			return
		}
		err = mapReservationRepoError(err)
		return
	}

	return
}

// Cancel moves a confirmed reservation to cancelled and returns it. Only the
// owner or an administrator may cancel.
func (l *ReservationLedger) Cancel(ctx context.Context, reservationID string, requester Principal) (reservation Reservation, err error) {
	if err = l.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "ReservationLedger.Cancel",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)),
	)
	logger := l.loggerWith(ctx, "Cancel",
		"principal_id", requester.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", reservation.RoomID).InfoContext(ctx, "reservation cancelled")
	}()

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	existing, err := l.authorizeChange(storeCtx, reservationID, requester)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.String("room.id", existing.RoomID))

	release, err := l.lockRoom(storeCtx, existing.RoomID)
	if err != nil {
		return
	}
	defer release()

	cancelledAt := l.now().UTC()
	if err = l.reservations.CancelReservation(storeCtx, existing.ID, cancelledAt); err != nil {
		err = mapReservationRepoError(err)
		return
	}

	reservation = existing
	reservation.Status = ReservationCancelled
	reservation.UpdatedAt = cancelledAt
	reservation.CancelledAt = &cancelledAt
	return
}

// Reschedule moves a confirmed reservation to window in the same room. The
// reservation's current window does not count against itself.
func (l *ReservationLedger) Reschedule(ctx context.Context, reservationID string, requester Principal, window TimeWindow) (reservation Reservation, err error) {
	if err = l.ready(); err != nil {
		return
	}

	ctx, span := tracer.Start(ctx, "ReservationLedger.Reschedule",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)),
	)
	logger := l.loggerWith(ctx, "Reschedule",
		"principal_id", requester.UserID,
		"reservation_id", reservationID,
	)
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "failed to reschedule reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", reservation.RoomID).InfoContext(ctx, "reservation rescheduled")
	}()

	if vErr := validateWindow(window); vErr.HasErrors() {
		err = vErr
		return
	}

	storeCtx, cancel := withStoreTimeout(ctx, l.storeTimeout)
	defer cancel()

	existing, err := l.authorizeChange(storeCtx, reservationID, requester)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.String("room.id", existing.RoomID))

	release, err := l.lockRoom(storeCtx, existing.RoomID)
	if err != nil {
		return
	}
	defer release()

	if err = l.ensureNoOverlap(storeCtx, existing.RoomID, window, existing.ID); err != nil {
		return
	}

	updatedAt := l.now().UTC()
	window = window.UTC()
	if err = l.reservations.RescheduleReservation(storeCtx, existing.ID, window.Start, window.End, updatedAt); err != nil {
		err = mapReservationRepoError(err)
		return
	}

	reservation = existing
	reservation.Window = window
	reservation.UpdatedAt = updatedAt
	return
}

// authorizeChange loads a reservation and checks that requester may change
// it. Checks run in a fixed order: existence, ownership, status.
func (l *ReservationLedger) authorizeChange(ctx context.Context, reservationID string, requester Principal) (Reservation, error) {
	if !requester.Authenticated() {
		return Reservation{}, ErrUnauthenticated
	}

	record, err := l.reservations.GetReservation(ctx, strings.TrimSpace(reservationID))
	if err != nil {
		return Reservation{}, mapReservationRepoError(err)
	}
	existing := toReservation(record)

	if existing.OwnerID != requester.UserID && !requester.IsAdmin() {
		return Reservation{}, ErrNotOwner
	}
	if existing.Status != ReservationConfirmed {
		return Reservation{}, ErrAlreadyCancelled
	}
	return existing, nil
}

func (l *ReservationLedger) lockRoom(ctx context.Context, roomID string) (func(), error) {
	release, err := l.locks.acquire(ctx, roomID)
	if err != nil {
		if mapped, ok := transientError(err); ok {
			return nil, mapped
		}
		return nil, err
	}
	return release, nil
}

func (l *ReservationLedger) ensureNoOverlap(ctx context.Context, roomID string, window TimeWindow, excludeID string) error {
	records, err := l.reservations.ListConfirmed(ctx, roomID)
	if err != nil {
		return mapReservationRepoError(err)
	}

	bookings := make([]scheduler.Booking, 0, len(records))
	for _, record := range records {
		bookings = append(bookings, scheduler.Booking{
			ID:     record.ID,
			Window: scheduler.TimeWindow{Start: record.Start, End: record.End},
		})
	}

	if conflict, clash := scheduler.FirstConflict(bookings, window, excludeID); clash {
		return fmt.Errorf("%w: conflicts with reservation %s", ErrOverlap, conflict.WithBookingID)
	}
	return nil
}

// validateWindow checks that both bounds are set and end is after start.
// Windows starting in the past are accepted.
func validateWindow(window TimeWindow) *ValidationError {
	vErr := &ValidationError{}
	if window.Start.IsZero() {
		vErr.add("start", "start is required")
	}
	if window.End.IsZero() {
		vErr.add("end", "end is required")
	}
	if !vErr.HasErrors() && !window.End.After(window.Start) {
		vErr.add("end", "end must be after start")
	}
	return vErr
}

func mapReservationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if mapped, ok := transientError(err); ok {
		return mapped
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrReservationNotFound
	}
	if errors.Is(err, persistence.ErrOverlap) {
		return ErrOverlap
	}
	if errors.Is(err, persistence.ErrStatusConflict) {
		return ErrAlreadyCancelled
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		// Input is validated before it reaches the store, so this is a bug.
		return fmt.Errorf("store rejected reservation: %w", err)
	}
	return err
}

func toReservation(record persistence.Reservation) Reservation {
	res := Reservation{
		ID:        record.ID,
		RoomID:    record.RoomID,
		OwnerID:   record.OwnerID,
		Window:    TimeWindow{Start: record.Start, End: record.End},
		Status:    ReservationStatus(record.Status),
		Purpose:   record.Purpose,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if record.CancelledAt != nil {
		at := *record.CancelledAt
		res.CancelledAt = &at
	}
	return res
}

func toReservations(records []persistence.Reservation) []Reservation {
	out := make([]Reservation, 0, len(records))
	for _, record := range records {
		out = append(out, toReservation(record))
	}
	return out
}

func toPersistenceReservation(res Reservation) persistence.Reservation {
	record := persistence.Reservation{
		ID:        res.ID,
		RoomID:    res.RoomID,
		OwnerID:   res.OwnerID,
		Start:     res.Window.Start,
		End:       res.Window.End,
		Status:    string(res.Status),
		Purpose:   res.Purpose,
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	}
	if res.CancelledAt != nil {
		at := *res.CancelledAt
		record.CancelledAt = &at
	}
	return record
}
