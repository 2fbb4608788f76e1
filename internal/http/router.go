package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Resolver     CredentialResolver
	Rooms        *RoomHandler
	Reservations *ReservationHandler
	Availability *AvailabilityHandler
	Health       Pinger
	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string
	Logger      *slog.Logger
	Middleware  []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Location", "Retry-After"},
			MaxAge:         300,
		}))
	}
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/healthz", healthHandler(cfg.Health, logger))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Resolver, logger))

		if cfg.Rooms != nil {
			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", cfg.Rooms.List)
				r.Post("/", cfg.Rooms.Create)
				r.Route("/{roomID}", func(r chi.Router) {
					r.Get("/", cfg.Rooms.Get)
					r.Put("/", cfg.Rooms.Update)
					r.Delete("/", cfg.Rooms.Delete)
					if cfg.Availability != nil {
						r.Get("/availability", cfg.Availability.Room)
					}
				})
			})
		}

		if cfg.Availability != nil {
			r.Get("/availability", cfg.Availability.Search)
		}

		if cfg.Reservations != nil {
			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", cfg.Reservations.List)
				r.Post("/", cfg.Reservations.Create)
				r.Route("/{reservationID}", func(r chi.Router) {
					r.Get("/", cfg.Reservations.Get)
					r.Patch("/", cfg.Reservations.Reschedule)
					r.Delete("/", cfg.Reservations.Cancel)
				})
			})
		}
	})

	return r
}

func healthHandler(store Pinger, logger *slog.Logger) http.HandlerFunc {
	responder := newResponder(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := store.Ping(pingCtx); err != nil {
				handlerLogger(ctx, logger, "Health", "Ping").ErrorContext(ctx, "store ping failed", "error", err)
				w.Header().Set("Retry-After", retryAfterSeconds)
				responder.writeJSON(ctx, w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		responder.writeJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

type healthResponse struct {
	Status string `json:"status"`
}
