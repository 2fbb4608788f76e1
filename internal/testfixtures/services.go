package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/persistence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Config      application.ServiceConfig
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. Logs are
// discarded unless WithLogger is given.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Config:      application.DefaultServiceConfig(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithServiceConfig overrides the resource bounds passed to the services.
func WithServiceConfig(cfg application.ServiceConfig) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Config = cfg
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// ServicesDeps captures the collaborators of the booking services.
type ServicesDeps struct {
	Rooms        persistence.RoomRepository
	Reservations persistence.ReservationRepository
	Resolver     application.CredentialResolver
	Events       application.EventPublisher
}

// Services is a fully wired set of booking services.
type Services struct {
	Catalog     *application.RoomService
	Ledger      *application.ReservationLedger
	Planner     *application.AvailabilityPlanner
	Coordinator *application.BookingCoordinator
}

// NewServices wires the catalog, ledger, planner and coordinator over deps.
func (f *ServiceFactory) NewServices(deps ServicesDeps) Services {
	now := f.Clock.NowFunc()
	idGen := f.IDGenerator.NextFunc()

	catalog := application.NewRoomServiceWithConfig(deps.Rooms, idGen, now, f.Logger, f.Config)
	ledger := application.NewReservationLedgerWithConfig(deps.Reservations, idGen, now, f.Logger, f.Config)
	return Services{
		Catalog:     catalog,
		Ledger:      ledger,
		Planner:     application.NewAvailabilityPlannerWithConfig(catalog, ledger, f.Logger, f.Config),
		Coordinator: application.NewBookingCoordinatorWithLogger(deps.Resolver, catalog, ledger, deps.Events, now, f.Logger),
	}
}

// NewServicesOn wires services over a store harness.
func (f *ServiceFactory) NewServicesOn(h *StoreHarness, resolver application.CredentialResolver) Services {
	return f.NewServices(ServicesDeps{
		Rooms:        h.Rooms,
		Reservations: h.Reservations,
		Resolver:     resolver,
	})
}
