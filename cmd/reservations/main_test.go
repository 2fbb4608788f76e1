package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/auth"
	"github.com/example/room-reservation/internal/config"
	"github.com/example/room-reservation/internal/persistence"
	"github.com/example/room-reservation/internal/testfixtures"
)

const testSecret = "main-test-secret"

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	environ := map[string]string{"RESERVATIONS_TOKEN_SECRET": testSecret}
	for k, v := range overrides {
		environ[k] = v
	}
	cfg, err := config.LoadEnvironment(environ)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := openStore(ctx, testConfig(t, map[string]string{"RESERVATIONS_STORE": "memory"}), discardLogger())
		if err != nil {
			t.Fatalf("openStore returned error: %v", err)
		}
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("sqlite applies migrations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reservations.db")
		store, err := openStore(ctx, testConfig(t, map[string]string{"RESERVATIONS_SQLITE_PATH": path}), discardLogger())
		if err != nil {
			t.Fatalf("openStore returned error: %v", err)
		}
		defer store.Close()

		room := testfixtures.NewRoomFixture()
		if err := store.CreateRoom(ctx, room.Persistence()); err != nil {
			t.Fatalf("expected migrated schema, CreateRoom failed: %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.Store = "postgres"
		if _, err := openStore(ctx, cfg, discardLogger()); err == nil {
			t.Fatalf("expected unknown store to fail")
		}
	})
}

func TestHandlerServesBookings(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, map[string]string{"RESERVATIONS_STORE": "memory"})

	hash, err := auth.HashServiceKey("s3cret", auth.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("HashServiceKey failed: %v", err)
	}
	cfg.ServiceKeys = []string{auth.FormatServiceKeyEntry("billing", hash)}

	store, err := openStore(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	defer store.Close()

	clock := testfixtures.NewClock(time.Time{})
	handler, err := newHandler(cfg, store, clock.NowFunc(), testfixtures.NewIDGenerator("id").NextFunc(), discardLogger())
	if err != nil {
		t.Fatalf("newHandler returned error: %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	issuer, err := auth.NewIssuer([]byte(testSecret), "", clock.NowFunc())
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	adminToken, _ := issuer.Mint("root", []string{application.RoleAdmin}, time.Hour)
	userToken, _ := issuer.Mint("alice", []string{application.RoleStudent}, time.Hour)

	call := func(method, path, credential string, body any) *http.Response {
		t.Helper()
		var reader io.Reader
		if body != nil {
			encoded, _ := json.Marshal(body)
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, server.URL+path, reader)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		req.Header.Set("Authorization", credential)
		resp, err := server.Client().Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := call(http.MethodPost, "/rooms", "Bearer "+adminToken, map[string]any{"name": "Orion", "capacity": 4})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected room creation to succeed, got %d", resp.StatusCode)
	}
	var created struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode room: %v", err)
	}

	resp = call(http.MethodPost, "/reservations", "Bearer "+userToken, map[string]string{
		"room_id": created.Room.ID,
		"start":   "2024-03-04T09:00:00Z",
		"end":     "2024-03-04T10:00:00Z",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected booking to succeed, got %d", resp.StatusCode)
	}

	resp = call(http.MethodGet, "/reservations", "ApiKey billing.s3cret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected service key to authenticate, got %d", resp.StatusCode)
	}

	resp = call(http.MethodGet, "/reservations", "ApiKey billing.wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected wrong service key to be rejected, got %d", resp.StatusCode)
	}

	confirmed, err := store.ListReservations(ctx, persistence.ReservationFilter{Status: persistence.StatusConfirmed})
	if err != nil {
		t.Fatalf("ListReservations failed: %v", err)
	}
	if len(confirmed) != 1 {
		t.Fatalf("expected one stored reservation, got %d", len(confirmed))
	}
}

func TestNewHandlerRejectsBadServiceKeys(t *testing.T) {
	cfg := testConfig(t, map[string]string{"RESERVATIONS_STORE": "memory"})
	cfg.ServiceKeys = []string{"billing@not-a-hash"}

	_, err := newHandler(cfg, nil, time.Now, func() string { return "id" }, discardLogger())
	if err == nil {
		t.Fatalf("expected malformed service key to fail startup")
	}
	if want := "parse service keys"; !strings.Contains(err.Error(), want) {
		t.Fatalf("expected %q in error, got %v", want, err)
	}
}
