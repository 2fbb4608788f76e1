package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/room-reservation/internal/persistence"
)

type roomRepoStub struct {
	mu sync.Mutex

	createErr error
	created   persistence.Room

	rooms    map[string]persistence.Room
	getErr   error
	getCalls int

	updateErr error
	updated   persistence.Room

	deleteErr error
	deletedID string

	listErr error
}

func newRoomRepoStub(rooms ...persistence.Room) *roomRepoStub {
	stub := &roomRepoStub{rooms: make(map[string]persistence.Room)}
	for _, room := range rooms {
		stub.rooms[room.ID] = room
	}
	return stub
}

func (r *roomRepoStub) CreateRoom(ctx context.Context, room persistence.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.created = room
	r.rooms[room.ID] = room
	return nil
}

func (r *roomRepoStub) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return persistence.Room{}, r.getErr
	}
	room, ok := r.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

func (r *roomRepoStub) UpdateRoom(ctx context.Context, room persistence.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updated = room
	r.rooms[room.ID] = room
	return nil
}

func (r *roomRepoStub) DeleteRoom(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletedID = id
	delete(r.rooms, id)
	return nil
}

func (r *roomRepoStub) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]persistence.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out, nil
}

func (r *roomRepoStub) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

var (
	adminPrincipal   = Principal{UserID: "admin-1", Roles: []string{RoleAdmin}}
	studentPrincipal = Principal{UserID: "student-1", Roles: []string{RoleStudent}}
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
}

func TestRoomService_CreateRoom(t *testing.T) {
	t.Run("requires administrator privileges", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		_, err := svc.CreateRoom(context.Background(), CreateRoomParams{
			Principal: studentPrincipal,
			Input:     RoomInput{Name: "Atlas", Capacity: 10},
		})

		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("validates required attributes", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		_, err := svc.CreateRoom(context.Background(), CreateRoomParams{
			Principal: adminPrincipal,
			Input:     RoomInput{Name: "   ", Capacity: 0, Features: []string{" "}},
		})

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"name", "capacity", "features"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s validation error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("persists trimmed room active by default", func(t *testing.T) {
		repo := newRoomRepoStub()
		svc := NewRoomService(repo, func() string { return "room-1" }, fixedNow)

		room, err := svc.CreateRoom(context.Background(), CreateRoomParams{
			Principal: adminPrincipal,
			Input: RoomInput{
				Name:     "  Atlas ",
				Capacity: 12,
				Features: []string{"projector", " projector", "whiteboard"},
			},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if room.ID != "room-1" || room.Name != "Atlas" || !room.Active {
			t.Fatalf("unexpected room %+v", room)
		}
		if len(room.Features) != 2 {
			t.Fatalf("expected duplicate features to be dropped, got %v", room.Features)
		}
		if !repo.created.CreatedAt.Equal(fixedNow()) {
			t.Fatalf("expected CreatedAt to use clock, got %v", repo.created.CreatedAt)
		}
	})

	t.Run("rejects name taken in another case", func(t *testing.T) {
		repo := newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4})
		svc := NewRoomService(repo, func() string { return "room-2" }, fixedNow)

		_, err := svc.CreateRoom(context.Background(), CreateRoomParams{
			Principal: adminPrincipal,
			Input:     RoomInput{Name: "ATLAS", Capacity: 4},
		})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("maps duplicate error from store", func(t *testing.T) {
		repo := newRoomRepoStub()
		repo.createErr = persistence.ErrDuplicate
		svc := NewRoomService(repo, func() string { return "room-1" }, fixedNow)

		_, err := svc.CreateRoom(context.Background(), CreateRoomParams{
			Principal: adminPrincipal,
			Input:     RoomInput{Name: "Atlas", Capacity: 4},
		})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})
}

func TestRoomService_Get(t *testing.T) {
	t.Run("unknown room", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound, got %v", err)
		}
	})

	t.Run("inactive room is returned", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4}), nil, nil)

		room, err := svc.Get(context.Background(), "room-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if room.Active {
			t.Fatalf("expected inactive room")
		}

		active, err := svc.IsActive(context.Background(), "room-1")
		if err != nil || active {
			t.Fatalf("expected IsActive=false, got %v (%v)", active, err)
		}
	})

	t.Run("reads are cached until a mutation", func(t *testing.T) {
		repo := newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4, Active: true})
		svc := NewRoomService(repo, nil, fixedNow)

		for i := 0; i < 3; i++ {
			if _, err := svc.Get(context.Background(), "room-1"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		}
		if repo.calls() != 1 {
			t.Fatalf("expected 1 store read, got %d", repo.calls())
		}

		inactive := false
		_, err := svc.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: adminPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "Atlas", Capacity: 4, Active: &inactive},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		active, err := svc.IsActive(context.Background(), "room-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if active {
			t.Fatalf("expected update to be visible after invalidation")
		}
	})

	t.Run("store deadline is transient", func(t *testing.T) {
		repo := newRoomRepoStub()
		repo.getErr = fmt.Errorf("query: %w", context.DeadlineExceeded)
		svc := NewRoomService(repo, nil, nil)

		if _, err := svc.Get(context.Background(), "room-1"); !errors.Is(err, ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
	})
}

// pausingRoomRepo holds the first GetRoom after it has read the store until
// release is closed.
type pausingRoomRepo struct {
	*roomRepoStub
	paused  atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRoomRepo) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	room, err := r.roomRepoStub.GetRoom(ctx, id)
	if r.paused.CompareAndSwap(false, true) {
		close(r.read)
		<-r.release
	}
	return room, err
}

func TestRoomService_GetDoesNotCacheReadsOverlappingUpdate(t *testing.T) {
	repo := &pausingRoomRepo{
		roomRepoStub: newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4, Active: true}),
		read:         make(chan struct{}),
		release:      make(chan struct{}),
	}
	svc := NewRoomService(repo, nil, fixedNow)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Get(ctx, "room-1")
		done <- err
	}()
	<-repo.read

	inactive := false
	if _, err := svc.UpdateRoom(ctx, UpdateRoomParams{
		Principal: adminPrincipal,
		RoomID:    "room-1",
		Input:     RoomInput{Name: "Atlas", Capacity: 4, Active: &inactive},
	}); err != nil {
		t.Fatalf("UpdateRoom failed: %v", err)
	}

	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	active, err := svc.IsActive(ctx, "room-1")
	if err != nil {
		t.Fatalf("IsActive failed: %v", err)
	}
	if active {
		t.Fatalf("expected deactivated room to be reported inactive after UpdateRoom returned")
	}
}

func TestRoomService_UpdateRoom(t *testing.T) {
	t.Run("requires administrator privileges", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		_, err := svc.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: studentPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "Atlas", Capacity: 4},
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		_, err := svc.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: adminPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "Atlas", Capacity: 4},
		})
		if !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound, got %v", err)
		}
	})

	t.Run("keeps active flag when omitted", func(t *testing.T) {
		created := fixedNow().Add(-time.Hour)
		repo := newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4, Active: true, CreatedAt: created})
		svc := NewRoomService(repo, nil, fixedNow)

		room, err := svc.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: adminPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "Atlas North", Capacity: 8},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !room.Active || room.Capacity != 8 || room.Name != "Atlas North" {
			t.Fatalf("unexpected room %+v", room)
		}
		if !repo.updated.CreatedAt.Equal(created) {
			t.Fatalf("expected CreatedAt to be preserved, got %v", repo.updated.CreatedAt)
		}
		if !repo.updated.UpdatedAt.Equal(fixedNow()) {
			t.Fatalf("expected UpdatedAt to be refreshed, got %v", repo.updated.UpdatedAt)
		}
	})

	t.Run("renaming to its own name in another case is allowed", func(t *testing.T) {
		repo := newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4, Active: true})
		svc := NewRoomService(repo, nil, fixedNow)

		if _, err := svc.UpdateRoom(context.Background(), UpdateRoomParams{
			Principal: adminPrincipal,
			RoomID:    "room-1",
			Input:     RoomInput{Name: "ATLAS", Capacity: 4},
		}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestRoomService_DeleteRoom(t *testing.T) {
	t.Run("requires administrator privileges", func(t *testing.T) {
		svc := NewRoomService(newRoomRepoStub(), nil, nil)

		if err := svc.DeleteRoom(context.Background(), studentPrincipal, "room-1"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("room with reservations", func(t *testing.T) {
		repo := newRoomRepoStub()
		repo.deleteErr = persistence.ErrReferenced
		svc := NewRoomService(repo, nil, nil)

		if err := svc.DeleteRoom(context.Background(), adminPrincipal, "room-1"); !errors.Is(err, ErrRoomInUse) {
			t.Fatalf("expected ErrRoomInUse, got %v", err)
		}
	})

	t.Run("deletes and invalidates cache", func(t *testing.T) {
		repo := newRoomRepoStub(persistence.Room{ID: "room-1", Name: "Atlas", Capacity: 4})
		svc := NewRoomService(repo, nil, nil)

		if _, err := svc.Get(context.Background(), "room-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := svc.DeleteRoom(context.Background(), adminPrincipal, "room-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if repo.deletedID != "room-1" {
			t.Fatalf("expected room-1 to be deleted, got %q", repo.deletedID)
		}
		if _, err := svc.Get(context.Background(), "room-1"); !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound after delete, got %v", err)
		}
	})
}

func TestRoomService_ListRooms(t *testing.T) {
	repo := newRoomRepoStub(
		persistence.Room{ID: "3", Name: "conference", Capacity: 4, Active: true},
		persistence.Room{ID: "1", Name: "Boardroom", Capacity: 4},
		persistence.Room{ID: "2", Name: "atrium", Capacity: 4, Active: true},
	)
	svc := NewRoomService(repo, nil, nil)

	t.Run("requires an authenticated principal", func(t *testing.T) {
		if _, err := svc.ListRooms(context.Background(), Principal{}, false); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("sorts ignoring case", func(t *testing.T) {
		rooms, err := svc.ListRooms(context.Background(), studentPrincipal, false)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := []string{"2", "1", "3"}
		for i, id := range want {
			if rooms[i].ID != id {
				t.Fatalf("expected order %v, got %+v", want, rooms)
			}
		}
	})

	t.Run("active only", func(t *testing.T) {
		rooms, err := svc.ListRooms(context.Background(), studentPrincipal, true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(rooms) != 2 || rooms[0].ID != "2" || rooms[1].ID != "3" {
			t.Fatalf("expected active rooms 2 and 3, got %+v", rooms)
		}
	})

	t.Run("missing repository is an error, not an empty catalog", func(t *testing.T) {
		unwired := NewRoomService(nil, nil, nil)
		if rooms, err := unwired.ListRooms(context.Background(), studentPrincipal, false); err == nil {
			t.Fatalf("expected error, got %+v", rooms)
		}
		if rooms, err := unwired.ActiveRooms(context.Background()); err == nil {
			t.Fatalf("expected error, got %+v", rooms)
		}
	})
}

func TestMapRoomRepoError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "not found", in: persistence.ErrNotFound, want: ErrRoomNotFound},
		{name: "duplicate", in: persistence.ErrDuplicate, want: ErrAlreadyExists},
		{name: "referenced", in: persistence.ErrReferenced, want: ErrRoomInUse},
		{name: "unavailable", in: persistence.ErrUnavailable, want: ErrTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapRoomRepoError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	t.Run("constraint violation is not a field error", func(t *testing.T) {
		err := mapRoomRepoError(persistence.ErrConstraintViolation)
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			t.Fatalf("expected no ValidationError, got %v", err)
		}
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected cause to be kept, got %v", err)
		}
		if kind := ErrorKind(err); kind != "unexpected" {
			t.Fatalf("expected error kind unexpected, got %q", kind)
		}
	})
}
