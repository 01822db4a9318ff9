package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/auth"
	"github.com/vovakirdan/wiredm-server/internal/config"
	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/metrics"
	"github.com/vovakirdan/wiredm-server/internal/store"
	"github.com/vovakirdan/wiredm-server/internal/store/postgres"
	"github.com/vovakirdan/wiredm-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiredm-server/internal/transport/http"
)

// App wires together store, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	redis           *redis.Client
	log             *zerolog.Logger
}

// OpenStore opens the store selected by cfg.Database and makes sure its
// schema exists.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(cfg.Path)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Migrate applies the schema and exits.
func Migrate(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("schema applied")
	return st.Close()
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})

	presence := core.NewPresence()
	dir := core.NewDirectory(st)
	messenger := core.NewMessenger(st, dir, core.NewFanout(presence, m, logger), m, logger)

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	var limiter transporthttp.Limiter
	switch {
	case cfg.RateLimit.RequestsPerMinute <= 0:
		logger.Info().Msg("rest rate limiting disabled")
	case cfg.RateLimit.RedisAddr != "":
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RateLimit.RedisAddr).Msg("redis unreachable, rate limiter fails open until it is")
		}
		limiter = transporthttp.NewRedisLimiter(a.redis, cfg.RateLimit.RequestsPerMinute, time.Minute)
		logger.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("using redis rate limiter")
	default:
		limiter = transporthttp.NewMemoryLimiter(cfg.RateLimit.RequestsPerMinute)
	}

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Auth:      authService,
		Users:     st,
		Directory: dir,
		Messenger: messenger,
		Presence:  presence,
		Limiter:   limiter,
		Metrics:   m,
		Gatherer:  reg,
	}, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
