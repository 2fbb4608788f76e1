package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/room-reservation/internal/persistence"
)

const roomColumns = `id, name, capacity, features, active, created_at, updated_at`

// RoomRepository implements persistence.RoomRepository using SQLite
type RoomRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewRoomRepository creates a new SQLite room repository
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateRoom inserts a new room into the database
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	features, err := encodeFeatures(room.Features)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO rooms (id, name, capacity, features, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, query,
			room.ID,
			room.Name,
			room.Capacity,
			features,
			room.Active,
			formatTime(room.CreatedAt),
			formatTime(room.UpdatedAt),
		)
		return err
	})
}

// UpdateRoom updates an existing room in the database
func (r *RoomRepository) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	features, err := encodeFeatures(room.Features)
	if err != nil {
		return err
	}

	const query = `
		UPDATE rooms
		SET name = ?, capacity = ?, features = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	return r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx, query,
			room.Name,
			room.Capacity,
			features,
			room.Active,
			formatTime(room.UpdatedAt),
			room.ID,
		)
		if err != nil {
			return err
		}
		return requireAffected(result)
	})
}

// GetRoom retrieves a room by ID from the database
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err != nil {
		return persistence.Room{}, r.mapper.MapError(err)
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name then ID
func (r *RoomRepository) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return rooms, nil
}

// DeleteRoom removes a room that no reservation references. The foreign key
// on reservations.room_id is declared ON DELETE RESTRICT.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var referenced int
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM reservations WHERE room_id = ?)`, id,
			).Scan(&referenced); err != nil {
				return err
			}
			if referenced == 1 {
				return persistence.ErrReferenced
			}

			result, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
			if err != nil {
				return err
			}
			return requireAffected(result)
		})
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (persistence.Room, error) {
	var room persistence.Room
	var features, createdAt, updatedAt string

	if err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Capacity,
		&features,
		&room.Active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Room{}, err
	}

	if err := json.Unmarshal([]byte(features), &room.Features); err != nil {
		return persistence.Room{}, fmt.Errorf("failed to decode features: %w", err)
	}

	var err error
	if room.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Room{}, err
	}

	return room, nil
}

func encodeFeatures(features []string) (string, error) {
	if features == nil {
		features = []string{}
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	return string(encoded), nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
