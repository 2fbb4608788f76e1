package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/room-reservation/internal/application"
)

type availabilityService interface {
	IsFree(ctx context.Context, roomID string, window application.TimeWindow) (bool, error)
	FindFree(ctx context.Context, roomIDs []string, window application.TimeWindow) ([]string, error)
	FreeWindows(ctx context.Context, roomID string, within application.TimeWindow) ([]application.TimeWindow, error)
}

type AvailabilityHandler struct {
	service   availabilityService
	responder responder
	logger    *slog.Logger
}

func NewAvailabilityHandler(service availabilityService, logger *slog.Logger) *AvailabilityHandler {
	base := defaultLogger(logger)
	return &AvailabilityHandler{service: service, responder: newResponder(base), logger: base}
}

// Room answers GET /rooms/{roomID}/availability.
func (h *AvailabilityHandler) Room(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")
	window, err := windowFromQuery(r.URL.Query(), "start", "end")
	if err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}

	logger := handlerLogger(ctx, h.logger, "AvailabilityHandler", "Room", "room_id", roomID)
	gaps, err := h.service.FreeWindows(ctx, roomID, window)
	if err != nil {
		logger.WarnContext(ctx, "free window lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	free, err := h.service.IsFree(ctx, roomID, window)
	if err != nil {
		logger.WarnContext(ctx, "availability check failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, roomAvailabilityResponse{
		RoomID:      roomID,
		Window:      toWindowDTO(window),
		Free:        free,
		FreeWindows: toWindowDTOs(gaps),
	})
}

// Search answers GET /availability.
func (h *AvailabilityHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	window, err := windowFromQuery(query, "start", "end")
	if err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}
	roomIDs := splitList(query["room_id"])

	logger := handlerLogger(ctx, h.logger, "AvailabilityHandler", "Search", "requested_rooms", len(roomIDs))
	free, err := h.service.FindFree(ctx, roomIDs, window)
	if err != nil {
		logger.WarnContext(ctx, "free room search failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	if free == nil {
		free = []string{}
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, freeRoomsResponse{Window: toWindowDTO(window), RoomIDs: free})
}

type roomAvailabilityResponse struct {
	RoomID      string      `json:"room_id"`
	Window      windowDTO   `json:"window"`
	Free        bool        `json:"free"`
	FreeWindows []windowDTO `json:"free_windows"`
}

type freeRoomsResponse struct {
	Window  windowDTO `json:"window"`
	RoomIDs []string  `json:"room_ids"`
}

type windowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toWindowDTO(w application.TimeWindow) windowDTO {
	return windowDTO{Start: formatTime(w.Start), End: formatTime(w.End)}
}

func toWindowDTOs(windows []application.TimeWindow) []windowDTO {
	out := make([]windowDTO, 0, len(windows))
	for _, w := range windows {
		out = append(out, toWindowDTO(w))
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type errInvalidQuery string

func (e errInvalidQuery) Error() string {
	return fmt.Sprintf("invalid %s parameter", string(e))
}

// parseTime parses an RFC 3339 value. Empty input yields the zero time so that
// the service reports the missing field as a validation error.
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", field)
	}
	return ts, nil
}

func optionalTime(field, value string) (*time.Time, error) {
	ts, err := parseTime(field, value)
	if err != nil || ts.IsZero() {
		return nil, err
	}
	return &ts, nil
}

func windowFromQuery(query url.Values, startKey, endKey string) (application.TimeWindow, error) {
	start, err := parseTime(startKey, query.Get(startKey))
	if err != nil {
		return application.TimeWindow{}, err
	}
	end, err := parseTime(endKey, query.Get(endKey))
	if err != nil {
		return application.TimeWindow{}, err
	}
	return application.TimeWindow{Start: start, End: end}, nil
}

// splitList accepts repeated parameters as well as comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
