package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/auth"
	"github.com/example/room-reservation/internal/config"
	httptransport "github.com/example/room-reservation/internal/http"
	"github.com/example/room-reservation/internal/logging"
	"github.com/example/room-reservation/internal/persistence"
	"github.com/example/room-reservation/internal/persistence/memory"
	"github.com/example/room-reservation/internal/persistence/sqlite"
	"github.com/example/room-reservation/internal/persistence/sqlite/migration"
	"github.com/example/room-reservation/internal/telemetry"
)

const serviceName = "reservations"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		slog.Error("reservations exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	handler, err := newHandler(cfg, store, time.Now, uuid.NewString, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("reservations API listening",
		"addr", server.Addr,
		"store", cfg.Store,
		"tracing", cfg.TracingEnabled(),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("reservations API stopped")
	return nil
}

// reservationStore is what the services and the health check need from a backend.
type reservationStore interface {
	persistence.RoomRepository
	persistence.ReservationRepository
	Ping(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (reservationStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; reservations are lost on exit")
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newHandler(cfg config.Config, store reservationStore, now func() time.Time, idGenerator func() string, logger *slog.Logger) (http.Handler, error) {
	keyring, err := auth.ParseServiceKeys(cfg.ServiceKeys)
	if err != nil {
		return nil, fmt.Errorf("parse service keys: %w", err)
	}

	var issuers []string
	if cfg.TokenIssuer != "" {
		issuers = []string{cfg.TokenIssuer}
	}
	resolver, err := auth.NewResolver(auth.ResolverConfig{
		Secret:      []byte(cfg.TokenSecret),
		Issuers:     issuers,
		ServiceKeys: keyring,
		Now:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("create credential resolver: %w", err)
	}

	svcCfg := cfg.ServiceConfig()
	catalog := application.NewRoomServiceWithConfig(store, idGenerator, now, logger, svcCfg)
	ledger := application.NewReservationLedgerWithConfig(store, idGenerator, now, logger, svcCfg)
	planner := application.NewAvailabilityPlannerWithConfig(catalog, ledger, logger, svcCfg)
	coordinator := application.NewBookingCoordinatorWithLogger(resolver, catalog, ledger, application.NewLogPublisher(logger), now, logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Resolver:     resolver,
		Rooms:        httptransport.NewRoomHandler(catalog, logger),
		Reservations: httptransport.NewReservationHandler(coordinator, logger),
		Availability: httptransport.NewAvailabilityHandler(planner, logger),
		Health:       store,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	}), nil
}
