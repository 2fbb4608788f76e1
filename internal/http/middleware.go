package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/logging"
)

// CredentialResolver turns an Authorization header value into a principal.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (application.Principal, error)
}

// Authenticate rejects requests whose credential does not resolve and stores
// the principal and the raw credential in the request context.
func Authenticate(resolver CredentialResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			credential := strings.TrimSpace(r.Header.Get("Authorization"))
			if credential == "" {
				responder.writeError(ctx, w, http.StatusUnauthorized, "UNAUTHENTICATED", errMissingCredential)
				return
			}
			if resolver == nil {
				responder.handleServiceError(ctx, w, application.ErrUnauthenticated)
				return
			}

			principal, err := resolver.Resolve(ctx, credential)
			if err != nil {
				handlerLogger(ctx, logger, "Authenticate", "Resolve", "error_kind", application.ErrorKind(err)).
					WarnContext(ctx, "credential rejected", "error", err)
				responder.handleServiceError(ctx, w, err)
				return
			}

			ctx = ContextWithPrincipal(ctx, principal)
			ctx = ContextWithCredential(ctx, credential)
			if l := logging.FromContext(ctx); l != nil {
				ctx = logging.ContextWithLogger(ctx, l.With("principal_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger to the context and logs one
// line per completed request. It must run after chi's RequestID middleware.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "request completed",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
