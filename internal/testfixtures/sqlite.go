package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/room-reservation/internal/persistence"
	"github.com/example/room-reservation/internal/persistence/memory"
	"github.com/example/room-reservation/internal/persistence/sqlite"
	"github.com/example/room-reservation/internal/persistence/sqlite/migration"
)

// StoreHarness exposes the repositories of one backing store together with a
// way to seed it.
type StoreHarness struct {
	Name         string
	Rooms        persistence.RoomRepository
	Reservations persistence.ReservationRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// SeedRooms inserts rooms, failing the test on error.
func (h *StoreHarness) SeedRooms(tb testing.TB, rooms ...RoomFixture) {
	tb.Helper()
	for _, room := range rooms {
		if err := h.Rooms.CreateRoom(context.Background(), room.Persistence()); err != nil {
			tb.Fatalf("failed to seed room %s: %v", room.ID, err)
		}
	}
}

// SeedReservations inserts reservations, failing the test on error. Cancelled
// fixtures are inserted confirmed and then cancelled, since stores only accept
// confirmed inserts.
func (h *StoreHarness) SeedReservations(tb testing.TB, reservations ...ReservationFixture) {
	tb.Helper()
	ctx := context.Background()
	for _, res := range reservations {
		record := res.Persistence()
		record.Status = persistence.StatusConfirmed
		record.CancelledAt = nil
		record.UpdatedAt = record.CreatedAt
		if err := h.Reservations.InsertReservation(ctx, record); err != nil {
			tb.Fatalf("failed to seed reservation %s: %v", res.ID, err)
		}
		if res.CancelledAt != nil {
			if err := h.Reservations.CancelReservation(ctx, res.ID, *res.CancelledAt); err != nil {
				tb.Fatalf("failed to cancel seeded reservation %s: %v", res.ID, err)
			}
		}
	}
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary file. The
// database is closed when the test ends.
func NewSQLiteHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "reservations.db")
	store, err := sqlite.Open(context.Background(), migration.TempFileTestSQLiteConfig(path), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &StoreHarness{
		Name:         "sqlite",
		Rooms:        store,
		Reservations: store,
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns a harness over an empty in-memory store.
func NewMemoryHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	store := memory.New()
	return &StoreHarness{
		Name:         "memory",
		Rooms:        store,
		Reservations: store,
		cleanup: func() {
			_ = store.Close()
		},
	}
}

// Harnesses returns one harness per store implementation, for contract tests
// that must hold for every backend.
func Harnesses(tb testing.TB) []*StoreHarness {
	tb.Helper()
	return []*StoreHarness{NewMemoryHarness(tb), NewSQLiteHarness(tb)}
}
