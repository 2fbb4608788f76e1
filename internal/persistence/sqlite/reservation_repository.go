package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/room-reservation/internal/persistence"
)

const reservationColumns = `id, room_id, owner_id, start_at, end_at, status, purpose, created_at, updated_at, cancelled_at`

// ReservationRepository implements persistence.ReservationRepository using SQLite.
//
// Writes that must not create overlaps run the overlap query and the write in
// one transaction. The pool begins write transactions IMMEDIATE, so the
// database write lock is held from the check until commit, including across
// processes sharing the file.
type ReservationRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewReservationRepository creates a new SQLite reservation repository
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// InsertReservation stores a confirmed reservation unless it overlaps another
// confirmed reservation of the same room.
func (r *ReservationRepository) InsertReservation(ctx context.Context, res persistence.Reservation) error {
	if res.ID == "" || res.Status != persistence.StatusConfirmed || !res.End.After(res.Start) {
		return persistence.ErrConstraintViolation
	}

	const insertSQL = `
		INSERT INTO reservations (id, room_id, owner_id, start_at, end_at, status, purpose, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var roomExists int
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = ?)`, res.RoomID,
			).Scan(&roomExists); err != nil {
				return err
			}
			if roomExists == 0 {
				return persistence.ErrNotFound
			}

			if err := checkOverlap(ctx, tx, res.RoomID, res.Start, res.End, ""); err != nil {
				return err
			}

			_, err := tx.ExecContext(ctx, insertSQL,
				res.ID,
				res.RoomID,
				res.OwnerID,
				formatTime(res.Start),
				formatTime(res.End),
				res.Status,
				res.Purpose,
				formatTime(res.CreatedAt),
				formatTime(res.UpdatedAt),
			)
			return err
		})
	})
}

// GetReservation retrieves a reservation by ID
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return res, nil
}

// ListConfirmed returns the confirmed reservations of a room ordered by start.
func (r *ReservationRepository) ListConfirmed(ctx context.Context, roomID string) ([]persistence.Reservation, error) {
	return r.ListReservations(ctx, persistence.ReservationFilter{
		RoomID: roomID,
		Status: persistence.StatusConfirmed,
	})
}

// ListReservations returns the reservations matching filter ordered by start.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var conditions []string
	var args []any

	if filter.RoomID != "" {
		conditions = append(conditions, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, "end_at > ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "start_at < ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_at ASC, id ASC"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var reservations []persistence.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return reservations, nil
}

// CancelReservation marks a confirmed reservation cancelled.
func (r *ReservationRepository) CancelReservation(ctx context.Context, id string, cancelledAt time.Time) error {
	const updateSQL = `
		UPDATE reservations
		SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			at := formatTime(cancelledAt)
			result, err := tx.ExecContext(ctx, updateSQL,
				persistence.StatusCancelled, at, at, id, persistence.StatusConfirmed)
			if err != nil {
				return err
			}
			return r.explainNoop(ctx, tx, result, id)
		})
	})
}

// RescheduleReservation moves a confirmed reservation to a new window.
func (r *ReservationRepository) RescheduleReservation(ctx context.Context, id string, start, end, updatedAt time.Time) error {
	if !end.After(start) {
		return persistence.ErrConstraintViolation
	}

	const updateSQL = `
		UPDATE reservations
		SET start_at = ?, end_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var roomID, status string
			err := tx.QueryRowContext(ctx,
				`SELECT room_id, status FROM reservations WHERE id = ?`, id,
			).Scan(&roomID, &status)
			if err != nil {
				return err
			}
			if status != persistence.StatusConfirmed {
				return persistence.ErrStatusConflict
			}

			if err := checkOverlap(ctx, tx, roomID, start, end, id); err != nil {
				return err
			}

			result, err := tx.ExecContext(ctx, updateSQL,
				formatTime(start), formatTime(end), formatTime(updatedAt), id, persistence.StatusConfirmed)
			if err != nil {
				return err
			}
			return requireAffected(result)
		})
	})
}

// explainNoop turns a conditional update that touched no rows into
// ErrNotFound or ErrStatusConflict.
func (r *ReservationRepository) explainNoop(ctx context.Context, tx *sql.Tx, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = ?)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return persistence.ErrNotFound
	}
	return persistence.ErrStatusConflict
}

func checkOverlap(ctx context.Context, tx *sql.Tx, roomID string, start, end time.Time, excludeID string) error {
	const overlapSQL = `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE room_id = ? AND status = ? AND start_at < ? AND end_at > ? AND id <> ?
		)
	`

	var clash int
	if err := tx.QueryRowContext(ctx, overlapSQL,
		roomID, persistence.StatusConfirmed, formatTime(end), formatTime(start), excludeID,
	).Scan(&clash); err != nil {
		return err
	}
	if clash == 1 {
		return persistence.ErrOverlap
	}
	return nil
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var res persistence.Reservation
	var start, end, createdAt, updatedAt string
	var cancelledAt sql.NullString

	if err := row.Scan(
		&res.ID,
		&res.RoomID,
		&res.OwnerID,
		&start,
		&end,
		&res.Status,
		&res.Purpose,
		&createdAt,
		&updatedAt,
		&cancelledAt,
	); err != nil {
		return persistence.Reservation{}, err
	}

	var err error
	if res.Start, err = parseTime("start_at", start); err != nil {
		return persistence.Reservation{}, err
	}
	if res.End, err = parseTime("end_at", end); err != nil {
		return persistence.Reservation{}, err
	}
	if res.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Reservation{}, err
	}
	if res.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Reservation{}, err
	}
	if cancelledAt.Valid {
		at, err := parseTime("cancelled_at", cancelledAt.String)
		if err != nil {
			return persistence.Reservation{}, err
		}
		res.CancelledAt = &at
	}

	return res, nil
}
