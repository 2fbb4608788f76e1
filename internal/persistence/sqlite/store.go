// Package sqlite implements the persistence repositories on SQLite through the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/example/room-reservation/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(fmt.Sprintf("sqlite: embedded migrations: %v", err))
	}
	return sub
}

// Store bundles the room and reservation repositories over one connection pool.
type Store struct {
	*RoomRepository
	*ReservationRepository

	pool *ConnectionPool
}

// Open connects to the database described by cfg and brings its schema up to date.
func Open(ctx context.Context, cfg migration.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}

	manager := migration.NewMigrationManager(
		migration.NewFileScanner(),
		migration.NewSQLiteExecutor(pool.DB()),
		Migrations(),
		logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		RoomRepository:        NewRoomRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		pool:                  pool,
	}, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
