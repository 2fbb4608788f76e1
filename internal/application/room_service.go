package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/example/room-reservation/internal/persistence"
)

// RoomService is the room catalog. Reads are served through a short lived
// cache; mutations are restricted to administrators and purge the cache.
type RoomService struct {
	rooms        persistence.RoomRepository
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
	cache        *roomCache
	storeTimeout time.Duration
}

// NewRoomService constructs a room service with the provided dependencies.
func NewRoomService(rooms persistence.RoomRepository, idGenerator func() string, now func() time.Time) *RoomService {
	return NewRoomServiceWithLogger(rooms, idGenerator, now, nil)
}

// NewRoomServiceWithLogger constructs a room service with a specified logger.
func NewRoomServiceWithLogger(rooms persistence.RoomRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RoomService {
	return NewRoomServiceWithConfig(rooms, idGenerator, now, logger, DefaultServiceConfig())
}

// NewRoomServiceWithConfig constructs a room service with explicit cache and timeout bounds.
func NewRoomServiceWithConfig(rooms persistence.RoomRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger, cfg ServiceConfig) *RoomService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	return &RoomService{
		rooms:        rooms,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
		cache:        newRoomCache(cfg.RoomCacheTTL, cfg.RoomCacheSize),
		storeTimeout: cfg.StoreTimeout,
	}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

// Get returns the room, active or not, or ErrRoomNotFound.
func (s *RoomService) Get(ctx context.Context, roomID string) (Room, error) {
	if s == nil {
		return Room{}, fmt.Errorf("RoomService is nil")
	}
	if s.rooms == nil {
		return Room{}, fmt.Errorf("room repository not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Room{}, ErrRoomNotFound
	}

	if room, ok := s.cache.Get(roomID); ok {
		return room, nil
	}

	generation := s.cache.Generation()

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.rooms.GetRoom(storeCtx, roomID)
	if err != nil {
		return Room{}, mapRoomRepoError(err)
	}

	room := toRoom(record)
	s.cache.StoreIfCurrent(room, generation)
	return room, nil
}

// IsActive reports whether the room accepts new reservations.
func (s *RoomService) IsActive(ctx context.Context, roomID string) (bool, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.Active, nil
}

// ActiveRooms returns every active room ordered by name.
func (s *RoomService) ActiveRooms(ctx context.Context) ([]Room, error) {
	rooms, err := s.listRooms(ctx)
	if err != nil {
		return nil, err
	}
	active := rooms[:0]
	for _, room := range rooms {
		if room.Active {
			active = append(active, room)
		}
	}
	return active, nil
}

// CreateRoom validates input and persists a new room for administrators.
func (s *RoomService) CreateRoom(ctx context.Context, params CreateRoomParams) (room Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateRoom",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID).InfoContext(ctx, "room created")
	}()

	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room repository not configured")
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	room = Room{
		ID:        s.idGenerator(),
		Name:      strings.TrimSpace(params.Input.Name),
		Capacity:  params.Input.Capacity,
		Features:  normalizeFeatures(params.Input.Features),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if params.Input.Active != nil {
		room.Active = *params.Input.Active
	}
	room.UpdatedAt = room.CreatedAt

	if err = s.ensureNameAvailable(ctx, room.ID, room.Name); err != nil {
		return
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err = s.rooms.CreateRoom(storeCtx, toPersistenceRoom(room)); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	s.cache.Invalidate()
	return
}

// UpdateRoom validates input and updates an existing room for administrators.
// A nil Input.Active leaves the active flag unchanged.
func (s *RoomService) UpdateRoom(ctx context.Context, params UpdateRoomParams) (room Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "UpdateRoom",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("active", room.Active).InfoContext(ctx, "room updated")
	}()

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	var existing persistence.Room
	existing, err = s.rooms.GetRoom(storeCtx, params.RoomID)
	if err != nil {
		err = mapRoomRepoError(err)
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	room = toRoom(existing)
	room.Name = strings.TrimSpace(params.Input.Name)
	room.Capacity = params.Input.Capacity
	room.Features = normalizeFeatures(params.Input.Features)
	if params.Input.Active != nil {
		room.Active = *params.Input.Active
	}
	room.UpdatedAt = s.now().UTC()

	if err = s.ensureNameAvailable(ctx, room.ID, room.Name); err != nil {
		return
	}

	if err = s.rooms.UpdateRoom(storeCtx, toPersistenceRoom(room)); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	s.cache.Invalidate()
	return
}

// DeleteRoom removes a room that no reservation references.
func (s *RoomService) DeleteRoom(ctx context.Context, principal Principal, roomID string) error {
	if s == nil {
		return fmt.Errorf("RoomService is nil")
	}
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}
	if s.rooms == nil {
		return fmt.Errorf("room repository not configured")
	}

	logger := s.loggerWith(ctx, "DeleteRoom",
		"principal_id", principal.UserID,
		"room_id", roomID,
	)

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.rooms.DeleteRoom(storeCtx, roomID); err != nil {
		err = mapRoomRepoError(err)
		logger.ErrorContext(ctx, "failed to delete room", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	s.cache.Invalidate()
	logger.InfoContext(ctx, "room deleted")
	return nil
}

// ListRooms returns the catalog for any authenticated principal, optionally
// restricted to active rooms.
func (s *RoomService) ListRooms(ctx context.Context, principal Principal, activeOnly bool) (rooms []Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if !principal.Authenticated() {
		err = ErrUnauthenticated
		return
	}

	logger := s.loggerWith(ctx, "ListRooms",
		"principal_id", principal.UserID,
		"active_only", activeOnly,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms)).InfoContext(ctx, "rooms listed")
	}()

	if activeOnly {
		rooms, err = s.ActiveRooms(ctx)
		return
	}
	rooms, err = s.listRooms(ctx)
	return
}

func (s *RoomService) listRooms(ctx context.Context) ([]Room, error) {
	if s == nil {
		return nil, fmt.Errorf("RoomService is nil")
	}
	if s.rooms == nil {
		return nil, fmt.Errorf("room repository not configured")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	records, err := s.rooms.ListRooms(storeCtx)
	if err != nil {
		return nil, mapRoomRepoError(err)
	}

	rooms := make([]Room, 0, len(records))
	for _, record := range records {
		rooms = append(rooms, toRoom(record))
	}
	sortRoomsByName(rooms)
	return rooms, nil
}

// ensureNameAvailable rejects a name that another room already uses once
// case is folded. The store enforces the same rule; checking first gives a
// field level error instead of a bare conflict.
func (s *RoomService) ensureNameAvailable(ctx context.Context, roomID, name string) error {
	rooms, err := s.listRooms(ctx)
	if err != nil {
		return err
	}
	folder := cases.Fold()
	want := folder.String(name)
	for _, room := range rooms {
		if room.ID != roomID && folder.String(room.Name) == want {
			return fmt.Errorf("%w: room name %q is taken", ErrAlreadyExists, name)
		}
	}
	return nil
}

func sortRoomsByName(rooms []Room) {
	folder := cases.Fold()
	keys := make(map[string]string, len(rooms))
	for _, room := range rooms {
		keys[room.ID] = folder.String(room.Name)
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		ki, kj := keys[rooms[i].ID], keys[rooms[j].ID]
		if ki == kj {
			return rooms[i].ID < rooms[j].ID
		}
		return ki < kj
	})
}

func validateRoomInput(input RoomInput) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.Name) == "" {
		vErr.add("name", "name is required")
	}
	if input.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}
	for _, feature := range input.Features {
		if strings.TrimSpace(feature) == "" {
			vErr.add("features", "features must not be blank")
			break
		}
	}

	return vErr
}

// normalizeFeatures trims entries and drops duplicates, keeping first occurrence order.
func normalizeFeatures(features []string) []string {
	if len(features) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(features))
	out := make([]string, 0, len(features))
	for _, feature := range features {
		feature = strings.TrimSpace(feature)
		if feature == "" {
			continue
		}
		if _, ok := seen[feature]; ok {
			continue
		}
		seen[feature] = struct{}{}
		out = append(out, feature)
	}
	return out
}

func mapRoomRepoError(err error) error {
	if err == nil {
		return nil
	}
	if mapped, ok := transientError(err); ok {
		return mapped
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrRoomNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrReferenced) {
		return ErrRoomInUse
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		// Input is validated before it reaches the store, so this is a bug.
		return fmt.Errorf("store rejected room: %w", err)
	}
	return err
}

func toRoom(record persistence.Room) Room {
	return Room{
		ID:        record.ID,
		Name:      record.Name,
		Capacity:  record.Capacity,
		Features:  append([]string(nil), record.Features...),
		Active:    record.Active,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toPersistenceRoom(room Room) persistence.Room {
	return persistence.Room{
		ID:        room.ID,
		Name:      room.Name,
		Capacity:  room.Capacity,
		Features:  append([]string(nil), room.Features...),
		Active:    room.Active,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

// withStoreTimeout bounds a backing store call. A zero timeout leaves ctx unchanged.
func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
