package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/room-reservation/internal/application"
	"github.com/example/room-reservation/internal/logging"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config captures environment driven configuration values for the reservation service.
type Config struct {
	HTTPPort           int           `env:"RESERVATIONS_HTTP_PORT" envDefault:"8080"`
	Store              string        `env:"RESERVATIONS_STORE" envDefault:"sqlite"`
	SQLitePath         string        `env:"RESERVATIONS_SQLITE_PATH" envDefault:"reservations.db"`
	TokenSecret        string        `env:"RESERVATIONS_TOKEN_SECRET"`
	TokenIssuer        string        `env:"RESERVATIONS_TOKEN_ISSUER"`
	ServiceKeys        []string      `env:"RESERVATIONS_SERVICE_KEYS" envSeparator:";"`
	StoreTimeout       time.Duration `env:"RESERVATIONS_STORE_TIMEOUT" envDefault:"2s"`
	RoomCacheTTL       time.Duration `env:"RESERVATIONS_ROOM_CACHE_TTL" envDefault:"30s"`
	RoomCacheSize      int           `env:"RESERVATIONS_ROOM_CACHE_SIZE" envDefault:"256"`
	PlannerParallelism int           `env:"RESERVATIONS_PLANNER_PARALLELISM" envDefault:"8"`
	CORSOrigins        []string      `env:"RESERVATIONS_CORS_ORIGINS" envSeparator:","`
	LogLevel           string        `env:"RESERVATIONS_LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"RESERVATIONS_LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return LoadEnvironment(env.ToMap(os.Environ()))
}

// LoadEnvironment parses configuration values from environ.
//
// Defaults apply to optional fields. Missing required values and invalid
// values are each reported as one error listing every offending variable in
// declaration order.
func LoadEnvironment(environ map[string]string) (Config, error) {
	var cfg Config
	invalid := make(map[string]bool)

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		var agg env.AggregateError
		if !errors.As(err, &agg) {
			return Config{}, fmt.Errorf("parse env: %w", err)
		}
		for _, fieldErr := range agg.Errors {
			var parseErr env.ParseError
			if !errors.As(fieldErr, &parseErr) {
				return Config{}, fmt.Errorf("parse env: %w", err)
			}
			invalid[envKey(parseErr.Name)] = true
		}
	}

	cfg.normalize()

	var missing []string
	if cfg.TokenSecret == "" {
		missing = append(missing, envKey("TokenSecret"))
	}

	for _, key := range cfg.validate() {
		invalid[key] = true
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(orderedKeys(invalid), ", "))
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.TokenSecret = strings.TrimSpace(c.TokenSecret)
	c.TokenIssuer = strings.TrimSpace(c.TokenIssuer)
	c.ServiceKeys = trimAll(c.ServiceKeys)
	c.CORSOrigins = trimAll(c.CORSOrigins)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.OTLPEndpoint = strings.TrimSpace(c.OTLPEndpoint)
}

// validate returns the keys of fields that parsed but hold unusable values.
func (c Config) validate() []string {
	var invalid []string
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, envKey("HTTPPort"))
	}
	if c.Store != StoreSQLite && c.Store != StoreMemory {
		invalid = append(invalid, envKey("Store"))
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		invalid = append(invalid, envKey("SQLitePath"))
	}
	for _, entry := range c.ServiceKeys {
		if !strings.Contains(entry, "@") {
			invalid = append(invalid, envKey("ServiceKeys"))
			break
		}
	}
	if c.StoreTimeout <= 0 {
		invalid = append(invalid, envKey("StoreTimeout"))
	}
	if c.RoomCacheTTL <= 0 {
		invalid = append(invalid, envKey("RoomCacheTTL"))
	}
	if c.RoomCacheSize <= 0 {
		invalid = append(invalid, envKey("RoomCacheSize"))
	}
	if c.PlannerParallelism <= 0 {
		invalid = append(invalid, envKey("PlannerParallelism"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, envKey("LogLevel"))
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatText {
		invalid = append(invalid, envKey("LogFormat"))
	}
	return invalid
}

// ServiceConfig returns the resource bounds handed to the application services.
func (c Config) ServiceConfig() application.ServiceConfig {
	return application.ServiceConfig{
		StoreTimeout:       c.StoreTimeout,
		RoomCacheTTL:       c.RoomCacheTTL,
		RoomCacheSize:      c.RoomCacheSize,
		PlannerParallelism: c.PlannerParallelism,
	}
}

// TracingEnabled reports whether spans should be exported.
func (c Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}

var configType = reflect.TypeOf(Config{})

func envKey(field string) string {
	f, ok := configType.FieldByName(field)
	if !ok {
		return field
	}
	key, _, _ := strings.Cut(f.Tag.Get("env"), ",")
	return key
}

func orderedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for i := 0; i < configType.NumField(); i++ {
		if key := envKey(configType.Field(i).Name); set[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
