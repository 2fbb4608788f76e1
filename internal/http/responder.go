package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/logging"
)

var (
	errBadRequestBody    = errors.New("request body is not valid JSON")
	errBodyTooLarge      = errors.New("request body is too large")
	errMissingCredential = errors.New("an Authorization header is required")
)

// retryAfterSeconds is advertised on 503 responses caused by a busy store.
const retryAfterSeconds = "1"

// maxRequestBodyBytes caps JSON request bodies.
const maxRequestBodyBytes = 1 << 20

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
	}
	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) badRequest(ctx context.Context, w http.ResponseWriter, err error) {
	r.writeError(ctx, w, http.StatusBadRequest, "BAD_REQUEST", err)
}

// decodeJSON reads at most maxRequestBodyBytes of the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(v)
}

// badBody answers a request whose body could not be decoded.
func (r responder) badBody(ctx context.Context, w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		r.writeError(ctx, w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", errBodyTooLarge)
		return
	}
	r.badRequest(ctx, w, errBadRequestBody)
}

// handleServiceError writes the response for an application error.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "request failed validation",
			Errors:    vErr.FieldErrors,
		})
		return
	}

	status, code := statusForError(err)
	resp := errorResponse{ErrorCode: code, Message: err.Error()}
	var stageErr *application.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = stageErr.Stage.String()
	}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	case http.StatusInternalServerError:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		resp.Message = "internal server error"
	}
	r.writeJSON(ctx, w, status, resp)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, application.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, application.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, application.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER"
	case errors.Is(err, application.ErrRoomNotFound):
		return http.StatusNotFound, "ROOM_NOT_FOUND"
	case errors.Is(err, application.ErrReservationNotFound):
		return http.StatusNotFound, "RESERVATION_NOT_FOUND"
	case errors.Is(err, application.ErrRoomInactive):
		return http.StatusUnprocessableEntity, "ROOM_INACTIVE"
	case errors.Is(err, application.ErrOverlap):
		return http.StatusConflict, "OVERLAP"
	case errors.Is(err, application.ErrAlreadyCancelled):
		return http.StatusConflict, "ALREADY_CANCELLED"
	case errors.Is(err, application.ErrRoomInUse):
		return http.StatusConflict, "ROOM_IN_USE"
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, application.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TRANSIENT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	// Stage names the booking stage that was not reached.
	Stage     string            `json:"stage,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
