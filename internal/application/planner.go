package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/room-reservation/internal/scheduler"
)

type activeReservationLister interface {
	ListActive(ctx context.Context, roomID string) ([]Reservation, error)
}

type roomDirectory interface {
	Get(ctx context.Context, roomID string) (Room, error)
	ActiveRooms(ctx context.Context) ([]Room, error)
}

// AvailabilityPlanner answers advisory availability questions. Its answers may
// be stale by the time a booking is committed; the ledger has the final say.
type AvailabilityPlanner struct {
	rooms        roomDirectory
	reservations activeReservationLister
	parallelism  int
	logger       *slog.Logger
}

// NewAvailabilityPlanner constructs a planner with the default parallelism.
func NewAvailabilityPlanner(rooms roomDirectory, reservations activeReservationLister, logger *slog.Logger) *AvailabilityPlanner {
	return NewAvailabilityPlannerWithConfig(rooms, reservations, logger, DefaultServiceConfig())
}

// NewAvailabilityPlannerWithConfig constructs a planner that evaluates at most
// cfg.PlannerParallelism rooms at once.
func NewAvailabilityPlannerWithConfig(rooms roomDirectory, reservations activeReservationLister, logger *slog.Logger, cfg ServiceConfig) *AvailabilityPlanner {
	cfg = cfg.withDefaults()
	return &AvailabilityPlanner{
		rooms:        rooms,
		reservations: reservations,
		parallelism:  cfg.PlannerParallelism,
		logger:       defaultLogger(logger),
	}
}

func (p *AvailabilityPlanner) ready() error {
	if p == nil {
		return fmt.Errorf("AvailabilityPlanner is nil")
	}
	if p.rooms == nil || p.reservations == nil {
		return fmt.Errorf("availability planner not configured")
	}
	return nil
}

// IsFree reports whether no confirmed reservation of the room overlaps window.
func (p *AvailabilityPlanner) IsFree(ctx context.Context, roomID string, window TimeWindow) (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}
	if vErr := validateWindow(window); vErr.HasErrors() {
		return false, vErr
	}
	return p.isFree(ctx, roomID, window)
}

func (p *AvailabilityPlanner) isFree(ctx context.Context, roomID string, window TimeWindow) (bool, error) {
	active, err := p.reservations.ListActive(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, res := range active {
		if res.Window.Overlaps(window) {
			return false, nil
		}
	}
	return true, nil
}

// FindFree returns, in input order, the ids of the rooms that are active and
// free for window. With no ids every active room is considered.
func (p *AvailabilityPlanner) FindFree(ctx context.Context, roomIDs []string, window TimeWindow) (free []string, err error) {
	if err = p.ready(); err != nil {
		return
	}

	logger := serviceLogger(ctx, p.logger, "AvailabilityPlanner", "FindFree",
		"requested_rooms", len(roomIDs),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to find free rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(free)).DebugContext(ctx, "free rooms found")
	}()

	if vErr := validateWindow(window); vErr.HasErrors() {
		err = vErr
		return
	}

	candidates, err := p.candidates(ctx, roomIDs)
	if err != nil {
		return
	}

	ok := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, room := range candidates {
		if !room.Active {
			continue
		}
		g.Go(func() error {
			isFree, err := p.isFree(gctx, room.ID, window)
			if err != nil {
				return err
			}
			ok[i] = isFree
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return
	}

	free = make([]string, 0, len(candidates))
	for i, room := range candidates {
		if ok[i] {
			free = append(free, room.ID)
		}
	}
	return
}

func (p *AvailabilityPlanner) candidates(ctx context.Context, roomIDs []string) ([]Room, error) {
	if len(roomIDs) == 0 {
		return p.rooms.ActiveRooms(ctx)
	}

	rooms := make([]Room, 0, len(roomIDs))
	seen := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		room, err := p.rooms.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// FreeWindows returns the gaps inside within that no confirmed reservation
// of the room covers, ordered by start.
func (p *AvailabilityPlanner) FreeWindows(ctx context.Context, roomID string, within TimeWindow) ([]TimeWindow, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if vErr := validateWindow(within); vErr.HasErrors() {
		return nil, vErr
	}
	if _, err := p.rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}

	active, err := p.reservations.ListActive(ctx, roomID)
	if err != nil {
		return nil, err
	}

	busy := make([]scheduler.TimeWindow, 0, len(active))
	for _, res := range active {
		busy = append(busy, res.Window)
	}
	return scheduler.FreeWindows(within, busy), nil
}
