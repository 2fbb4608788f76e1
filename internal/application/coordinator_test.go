package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-reservation/internal/persistence"
)

// resolverStub accepts "token:<user>[:<role>]" credentials.
type resolverStub struct {
	calls atomic.Int32
}

func (r *resolverStub) Resolve(ctx context.Context, credential string) (Principal, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	parts := strings.Split(strings.TrimPrefix(credential, "Bearer "), ":")
	if len(parts) < 2 || parts[0] != "token" {
		return Principal{}, fmt.Errorf("%w: token expired", ErrUnauthenticated)
	}
	p := Principal{UserID: parts[1]}
	if len(parts) > 2 {
		p.Roles = []string{parts[2]}
	}
	return p, nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []BookingEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, event BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *publisherStub) types() []BookingEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BookingEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type coordinatorFixture struct {
	coordinator *BookingCoordinator
	ledger      *ReservationLedger
	store       *reservationStoreStub
	rooms       *roomRepoStub
	events      *publisherStub
}

func newCoordinatorFixture(t *testing.T) coordinatorFixture {
	t.Helper()

	rooms := newRoomRepoStub(
		persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 8, Active: true},
		persistence.Room{ID: "room-2", Name: "Borealis", Capacity: 8, Active: true},
		persistence.Room{ID: "room-closed", Name: "Closed", Capacity: 8, Active: false},
	)
	store := newReservationStoreStub(t, "room-1", "room-2", "room-closed")
	ledger := NewReservationLedger(store, sequentialIDs("res"), fixedNow)
	events := &publisherStub{}
	coordinator := NewBookingCoordinator(&resolverStub{}, NewRoomService(rooms, nil, fixedNow), ledger, events, fixedNow)

	return coordinatorFixture{coordinator: coordinator, ledger: ledger, store: store, rooms: rooms, events: events}
}

func requireStage(t *testing.T, err error, stage Stage, target error) {
	t.Helper()

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, stage, stageErr.Stage)
	if target != nil {
		assert.ErrorIs(t, err, target)
	}
}

func TestBookingCoordinator_Book(t *testing.T) {
	t.Run("happy path publishes event", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		res, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "Bearer token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0), Purpose: "review",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", res.OwnerID)
		assert.Equal(t, []BookingEventType{BookingPlaced}, f.events.types())
	})

	t.Run("expired credential touches nothing", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "Bearer expired", RoomID: "room-1", Window: slot(9, 0, 10, 0),
		})
		requireStage(t, err, StageAuthenticated, ErrUnauthenticated)
		assert.Zero(t, f.store.calls.Load())
		assert.Zero(t, f.rooms.calls())
		assert.Empty(t, f.events.types())
	})

	t.Run("caller context errors are not authentication failures", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		req := BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)}

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.coordinator.Book(cancelled, req)
		requireStage(t, err, StageAuthenticated, context.Canceled)
		assert.NotErrorIs(t, err, ErrUnauthenticated)

		expired, cancelExpired := context.WithDeadline(context.Background(), time.Unix(0, 0))
		defer cancelExpired()
		_, err = f.coordinator.Book(expired, req)
		requireStage(t, err, StageAuthenticated, ErrTransient)
		assert.NotErrorIs(t, err, ErrUnauthenticated)
		assert.Zero(t, f.store.calls.Load())
	})

	t.Run("invalid window", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "token:alice", RoomID: "room-1", Window: slot(10, 0, 10, 0),
		})
		requireStage(t, err, StageRoomValidated, nil)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Zero(t, f.store.calls.Load())
	})

	t.Run("purpose too long", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0), Purpose: strings.Repeat("x", maxPurposeLength+1),
		})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "purpose")
	})

	t.Run("unknown room", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "token:alice", RoomID: "nope", Window: slot(9, 0, 10, 0),
		})
		requireStage(t, err, StageRoomValidated, ErrRoomNotFound)
	})

	t.Run("inactive room", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{
			Credential: "token:alice", RoomID: "room-closed", Window: slot(9, 0, 10, 0),
		})
		requireStage(t, err, StageRoomValidated, ErrRoomInactive)
		assert.Zero(t, f.store.calls.Load())
	})

	t.Run("overlap", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		_, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
		require.NoError(t, err)

		_, err = f.coordinator.Book(context.Background(), BookRequest{Credential: "token:bob", RoomID: "room-1", Window: slot(9, 30, 10, 30)})
		requireStage(t, err, StageAvailabilityChecked, ErrOverlap)
		assert.Equal(t, "overlap", ErrorKind(err))
	})

	t.Run("store failure on insert", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.store.insertErr = persistence.ErrUnavailable

		_, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
		requireStage(t, err, StageCommitted, ErrTransient)
	})

	t.Run("publish failure does not fail booking", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.events.err = errors.New("broker down")

		_, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
		require.NoError(t, err)
	})
}

func TestBookingCoordinator_ConcurrentBooks(t *testing.T) {
	f := newCoordinatorFixture(t)

	const attempts = 12
	var wg sync.WaitGroup
	var ok, overlap atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coordinator.Book(context.Background(), BookRequest{
				Credential: fmt.Sprintf("token:user-%d", i),
				RoomID:     "room-1",
				Window:     slot(14, 0, 15, 0),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrOverlap):
				overlap.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	var twoRooms sync.WaitGroup
	roomErrs := make([]error, 2)
	for i, roomID := range []string{"room-1", "room-2"} {
		twoRooms.Add(1)
		go func(i int, roomID string) {
			defer twoRooms.Done()
			_, roomErrs[i] = f.coordinator.Book(context.Background(), BookRequest{
				Credential: "token:carol",
				RoomID:     roomID,
				Window:     slot(8, 0, 9, 0),
			})
		}(i, roomID)
	}

	wg.Wait()
	twoRooms.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, attempts-1, overlap.Load())
	require.NoError(t, roomErrs[0])
	require.NoError(t, roomErrs[1])
	assert.Equal(t, 0, f.ledger.locks.partitions())
}

func TestBookingCoordinator_Cancel(t *testing.T) {
	f := newCoordinatorFixture(t)

	res, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
	require.NoError(t, err)

	require.ErrorIs(t, f.coordinator.Cancel(context.Background(), "token:bob", res.ID), ErrNotOwner)
	require.ErrorIs(t, f.coordinator.Cancel(context.Background(), "garbage", res.ID), ErrUnauthenticated)
	require.ErrorIs(t, f.coordinator.Cancel(context.Background(), "token:alice", "missing"), ErrReservationNotFound)

	require.NoError(t, f.coordinator.Cancel(context.Background(), "token:alice", res.ID))
	require.ErrorIs(t, f.coordinator.Cancel(context.Background(), "token:alice", res.ID), ErrAlreadyCancelled)

	assert.Equal(t, []BookingEventType{BookingPlaced, BookingCancelled}, f.events.types())
}

func TestBookingCoordinator_Reschedule(t *testing.T) {
	f := newCoordinatorFixture(t)

	res, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
	require.NoError(t, err)

	t.Run("moves reservation", func(t *testing.T) {
		moved, err := f.coordinator.Reschedule(context.Background(), "token:alice", res.ID, slot(13, 0, 14, 0))
		require.NoError(t, err)
		assert.Equal(t, slot(13, 0, 14, 0), moved.Window)
	})

	t.Run("inactive room rejects move", func(t *testing.T) {
		inactive := false
		catalog := NewRoomService(f.rooms, nil, fixedNow)
		_, err := catalog.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: adminPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "Atlas", Capacity: 8, Active: &inactive},
		})
		require.NoError(t, err)

		coordinator := NewBookingCoordinator(&resolverStub{}, catalog, f.ledger, f.events, fixedNow)
		_, err = coordinator.Reschedule(context.Background(), "token:alice", res.ID, slot(15, 0, 16, 0))
		require.ErrorIs(t, err, ErrRoomInactive)
	})

	t.Run("other user", func(t *testing.T) {
		_, err := f.coordinator.Reschedule(context.Background(), "token:bob", res.ID, slot(15, 0, 16, 0))
		require.ErrorIs(t, err, ErrNotOwner)
	})
}

func TestBookingCoordinator_GetAndList(t *testing.T) {
	f := newCoordinatorFixture(t)

	aliceRes, err := f.coordinator.Book(context.Background(), BookRequest{Credential: "token:alice", RoomID: "room-1", Window: slot(9, 0, 10, 0)})
	require.NoError(t, err)
	_, err = f.coordinator.Book(context.Background(), BookRequest{Credential: "token:bob", RoomID: "room-2", Window: slot(9, 0, 10, 0)})
	require.NoError(t, err)

	t.Run("owner reads own reservation", func(t *testing.T) {
		got, err := f.coordinator.Get(context.Background(), "token:alice", aliceRes.ID)
		require.NoError(t, err)
		assert.Equal(t, aliceRes.ID, got.ID)
	})

	t.Run("others may not read it", func(t *testing.T) {
		_, err := f.coordinator.Get(context.Background(), "token:bob", aliceRes.ID)
		require.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("admin reads anything", func(t *testing.T) {
		_, err := f.coordinator.Get(context.Background(), "token:root:ADMIN", aliceRes.ID)
		require.NoError(t, err)
	})

	t.Run("non admin list is scoped to self", func(t *testing.T) {
		list, err := f.coordinator.List(context.Background(), "token:alice", ReservationFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "alice", list[0].OwnerID)

		_, err = f.coordinator.List(context.Background(), "token:alice", ReservationFilter{OwnerID: "bob"})
		require.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("admin lists everything", func(t *testing.T) {
		list, err := f.coordinator.List(context.Background(), "token:root:administrator", ReservationFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

func TestStage_String(t *testing.T) {
	want := map[Stage]string{
		StageReceived:            "received",
		StageAuthenticated:       "authenticated",
		StageRoomValidated:       "room_validated",
		StageAvailabilityChecked: "availability_checked",
		StageCommitted:           "committed",
	}
	for stage, name := range want {
		if stage.String() != name {
			t.Fatalf("expected %q, got %q", name, stage.String())
		}
	}
}
