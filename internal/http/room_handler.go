package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/room-reservation/internal/application"
)

type roomService interface {
	Get(ctx context.Context, roomID string) (application.Room, error)
	CreateRoom(ctx context.Context, params application.CreateRoomParams) (application.Room, error)
	UpdateRoom(ctx context.Context, params application.UpdateRoomParams) (application.Room, error)
	DeleteRoom(ctx context.Context, principal application.Principal, roomID string) error
	ListRooms(ctx context.Context, principal application.Principal, activeOnly bool) ([]application.Room, error)
}

type RoomHandler struct {
	service   roomService
	responder responder
	logger    *slog.Logger
}

func NewRoomHandler(service roomService, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RoomHandler", operation, attrs...)
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)

	var req roomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(ctx, "Create", "error_kind", "bad_request").WarnContext(ctx, "failed to decode room request", "error", err)
		h.responder.badBody(ctx, w, err)
		return
	}

	logger := h.log(ctx, "Create")
	room, err := h.service.CreateRoom(ctx, application.CreateRoomParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.WarnContext(ctx, "room creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.With("room_id", room.ID).InfoContext(ctx, "room created")
	h.responder.writeJSON(ctx, w, http.StatusCreated, roomResponse{Room: toRoomDTO(room)})
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")
	room, err := h.service.Get(ctx, roomID)
	if err != nil {
		h.log(ctx, "Get", "room_id", roomID).WarnContext(ctx, "room lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, roomResponse{Room: toRoomDTO(room)})
}

func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")
	principal, _ := PrincipalFromContext(ctx)

	var req roomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(ctx, "Update", "room_id", roomID, "error_kind", "bad_request").WarnContext(ctx, "failed to decode room update", "error", err)
		h.responder.badBody(ctx, w, err)
		return
	}

	logger := h.log(ctx, "Update", "room_id", roomID)
	room, err := h.service.UpdateRoom(ctx, application.UpdateRoomParams{
		Principal: principal,
		RoomID:    roomID,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.WarnContext(ctx, "room update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "room updated")
	h.responder.writeJSON(ctx, w, http.StatusOK, roomResponse{Room: toRoomDTO(room)})
}

func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")
	principal, _ := PrincipalFromContext(ctx)

	logger := h.log(ctx, "Delete", "room_id", roomID)
	if err := h.service.DeleteRoom(ctx, principal, roomID); err != nil {
		logger.WarnContext(ctx, "room delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "room deleted")
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)

	activeOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.badRequest(ctx, w, errInvalidQuery("active"))
			return
		}
		activeOnly = parsed
	}

	logger := h.log(ctx, "List", "active_only", activeOnly)
	rooms, err := h.service.ListRooms(ctx, principal, activeOnly)
	if err != nil {
		logger.WarnContext(ctx, "room list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.With("result_count", len(rooms)).DebugContext(ctx, "rooms listed")
	h.responder.writeJSON(ctx, w, http.StatusOK, listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

type roomRequest struct {
	Name     string   `json:"name"`
	Capacity int      `json:"capacity"`
	Features []string `json:"features"`
	Active   *bool    `json:"active"`
}

func (r roomRequest) toInput() application.RoomInput {
	return application.RoomInput{
		Name:     strings.TrimSpace(r.Name),
		Capacity: r.Capacity,
		Features: append([]string(nil), r.Features...),
		Active:   r.Active,
	}
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type roomDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Capacity  int      `json:"capacity"`
	Features  []string `json:"features"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func toRoomDTO(room application.Room) roomDTO {
	features := room.Features
	if features == nil {
		features = []string{}
	}
	return roomDTO{
		ID:        room.ID,
		Name:      room.Name,
		Capacity:  room.Capacity,
		Features:  features,
		Active:    room.Active,
		CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: room.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toRoomDTOs(rooms []application.Room) []roomDTO {
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoomDTO(room))
	}
	return out
}
