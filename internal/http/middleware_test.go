package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/logging"
)

type fakeResolver struct {
	principal application.Principal
	err       error
	calls     int
}

func (f *fakeResolver) Resolve(ctx context.Context, credential string) (application.Principal, error) {
	f.calls++
	return f.principal, f.err
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	t.Run("rejects requests without valid credentials", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name       string
			header     string
			resolveErr error
			wantStatus int
			wantCalls  int
		}{
			{name: "missing header", wantStatus: http.StatusUnauthorized},
			{
				name:       "rejected token",
				header:     "Bearer malformed",
				resolveErr: fmt.Errorf("%w: token is malformed", application.ErrUnauthenticated),
				wantStatus: http.StatusUnauthorized,
				wantCalls:  1,
			},
			{
				name:       "resolver outage",
				header:     "Bearer anything",
				resolveErr: application.ErrTransient,
				wantStatus: http.StatusServiceUnavailable,
				wantCalls:  1,
			},
		}

		for _, tc := range tests {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				resolver := &fakeResolver{err: tc.resolveErr}
				handler := Authenticate(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("next handler should not be called when authentication fails")
				}))

				req := httptest.NewRequest(http.MethodGet, "/protected", nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				if rec.Code != tc.wantStatus {
					t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
				}
				if resolver.calls != tc.wantCalls {
					t.Fatalf("expected %d resolver calls, got %d", tc.wantCalls, resolver.calls)
				}
			})
		}
	})

	t.Run("attaches principal and credential to request context", func(t *testing.T) {
		t.Parallel()

		principal := application.Principal{UserID: "alice", Roles: []string{application.RoleStaff}}
		resolver := &fakeResolver{principal: principal}

		var (
			gotPrincipal  application.Principal
			gotCredential string
		)
		handler := Authenticate(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ok bool
			gotPrincipal, ok = PrincipalFromContext(r.Context())
			if !ok {
				t.Fatal("expected principal in request context")
			}
			gotCredential = CredentialFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer valid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if gotPrincipal.UserID != "alice" || !gotPrincipal.HasRole(application.RoleStaff) {
			t.Fatalf("unexpected principal: %+v", gotPrincipal)
		}
		if gotCredential != "Bearer valid" {
			t.Fatalf("expected raw credential, got %q", gotCredential)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var sawLogger bool
	handler := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !sawLogger {
		t.Fatalf("expected request logger in context")
	}
	line := buf.String()
	for _, want := range []string{"request completed", "status=418", "path=/rooms", "request_id="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected log to contain %q, got %q", want, line)
		}
	}
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{application.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{application.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
		{application.ErrNotOwner, http.StatusForbidden, "NOT_OWNER"},
		{application.ErrRoomNotFound, http.StatusNotFound, "ROOM_NOT_FOUND"},
		{application.ErrReservationNotFound, http.StatusNotFound, "RESERVATION_NOT_FOUND"},
		{application.ErrRoomInactive, http.StatusUnprocessableEntity, "ROOM_INACTIVE"},
		{&application.StageError{Stage: application.StageAvailabilityChecked, Err: application.ErrOverlap}, http.StatusConflict, "OVERLAP"},
		{application.ErrAlreadyCancelled, http.StatusConflict, "ALREADY_CANCELLED"},
		{application.ErrRoomInUse, http.StatusConflict, "ROOM_IN_USE"},
		{application.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
		{application.ErrTransient, http.StatusServiceUnavailable, "TRANSIENT"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "TRANSIENT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range tests {
		status, code := statusForError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v: expected %d %s, got %d %s", tc.err, tc.status, tc.code, status, code)
		}
	}
}

func TestHandleServiceError_TransientSetsRetryAfter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newResponder(nil).handleServiceError(context.Background(), rec, fmt.Errorf("%w: database is locked", application.ErrTransient))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != retryAfterSeconds {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}
