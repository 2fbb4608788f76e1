package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/room-reservation/internal/application"
)

type bookingService interface {
	Book(ctx context.Context, req application.BookRequest) (application.Reservation, error)
	Cancel(ctx context.Context, credential, reservationID string) error
	Reschedule(ctx context.Context, credential, reservationID string, window application.TimeWindow) (application.Reservation, error)
	Get(ctx context.Context, credential, reservationID string) (application.Reservation, error)
	List(ctx context.Context, credential string, filter application.ReservationFilter) ([]application.Reservation, error)
}

// ReservationHandler forwards the caller's credential to the booking
// coordinator, which authenticates every call itself.
type ReservationHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service bookingService, logger *slog.Logger) *ReservationHandler {
	base := defaultLogger(logger)
	return &ReservationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReservationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ReservationHandler", operation, attrs...)
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var req reservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(ctx, "Create", "error_kind", "bad_request").WarnContext(ctx, "failed to decode reservation request", "error", err)
		h.responder.badBody(ctx, w, err)
		return
	}
	window, err := req.window()
	if err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}

	logger := h.log(ctx, "Create", "room_id", req.RoomID)
	reservation, err := h.service.Book(ctx, application.BookRequest{
		Credential: CredentialFromContext(ctx),
		RoomID:     strings.TrimSpace(req.RoomID),
		Window:     window,
		Purpose:    req.Purpose,
	})
	if err != nil {
		logger.WarnContext(ctx, "booking failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation booked")
	w.Header().Set("Location", "/reservations/"+reservation.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "reservationID")
	reservation, err := h.service.Get(ctx, CredentialFromContext(ctx), id)
	if err != nil {
		h.log(ctx, "Get", "reservation_id", id).WarnContext(ctx, "reservation lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "reservationID")
	var req reservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(ctx, "Reschedule", "reservation_id", id, "error_kind", "bad_request").WarnContext(ctx, "failed to decode reschedule request", "error", err)
		h.responder.badBody(ctx, w, err)
		return
	}
	window, err := req.window()
	if err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}

	logger := h.log(ctx, "Reschedule", "reservation_id", id)
	reservation, err := h.service.Reschedule(ctx, CredentialFromContext(ctx), id, window)
	if err != nil {
		logger.WarnContext(ctx, "reschedule failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "reservation rescheduled")
	h.responder.writeJSON(ctx, w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "reservationID")
	logger := h.log(ctx, "Cancel", "reservation_id", id)
	if err := h.service.Cancel(ctx, CredentialFromContext(ctx), id); err != nil {
		logger.WarnContext(ctx, "cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "reservation cancelled")
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	filter := application.ReservationFilter{
		RoomID:  strings.TrimSpace(query.Get("room_id")),
		OwnerID: strings.TrimSpace(query.Get("owner_id")),
		Status:  application.ReservationStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
	}
	switch filter.Status {
	case "", application.ReservationConfirmed, application.ReservationCancelled:
	default:
		h.responder.badRequest(ctx, w, errInvalidQuery("status"))
		return
	}

	var err error
	if filter.From, err = optionalTime("from", query.Get("from")); err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}
	if filter.To, err = optionalTime("to", query.Get("to")); err != nil {
		h.responder.badRequest(ctx, w, err)
		return
	}

	logger := h.log(ctx, "List")
	reservations, err := h.service.List(ctx, CredentialFromContext(ctx), filter)
	if err != nil {
		logger.WarnContext(ctx, "reservation list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	logger.With("result_count", len(reservations)).DebugContext(ctx, "reservations listed")
	h.responder.writeJSON(ctx, w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(reservations)})
}

type reservationRequest struct {
	RoomID  string `json:"room_id"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Purpose string `json:"purpose"`
}

func (r reservationRequest) window() (application.TimeWindow, error) {
	start, err := parseTime("start", r.Start)
	if err != nil {
		return application.TimeWindow{}, err
	}
	end, err := parseTime("end", r.End)
	if err != nil {
		return application.TimeWindow{}, err
	}
	return application.TimeWindow{Start: start, End: end}, nil
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type reservationDTO struct {
	ID          string  `json:"id"`
	RoomID      string  `json:"room_id"`
	OwnerID     string  `json:"owner_id"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Status      string  `json:"status"`
	Purpose     string  `json:"purpose,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CancelledAt *string `json:"cancelled_at,omitempty"`
}

func toReservationDTO(res application.Reservation) reservationDTO {
	dto := reservationDTO{
		ID:        res.ID,
		RoomID:    res.RoomID,
		OwnerID:   res.OwnerID,
		Start:     formatTime(res.Window.Start),
		End:       formatTime(res.Window.End),
		Status:    string(res.Status),
		Purpose:   res.Purpose,
		CreatedAt: formatTime(res.CreatedAt),
		UpdatedAt: formatTime(res.UpdatedAt),
	}
	if res.CancelledAt != nil {
		at := formatTime(*res.CancelledAt)
		dto.CancelledAt = &at
	}
	return dto
}

func toReservationDTOs(reservations []application.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toReservationDTO(res))
	}
	return out
}
