package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargeops/backend/libs/db"
	libredis "chargeops/backend/libs/redis"
	"chargeops/backend/services/station-ops/internal/cache"
	"chargeops/backend/services/station-ops/internal/capacity"
	"chargeops/backend/services/station-ops/internal/config"
	"chargeops/backend/services/station-ops/internal/control"
	"chargeops/backend/services/station-ops/internal/events"
	httpserver "chargeops/backend/services/station-ops/internal/http"
	"chargeops/backend/services/station-ops/internal/http/handlers"
	"chargeops/backend/services/station-ops/internal/http/middleware"
	"chargeops/backend/services/station-ops/internal/metrics"
	"chargeops/backend/services/station-ops/internal/notify"
	"chargeops/backend/services/station-ops/internal/repository/memory"
	"chargeops/backend/services/station-ops/internal/repository/postgres"
	"chargeops/backend/services/station-ops/internal/scheduler"
	"chargeops/backend/services/station-ops/internal/sessions"
	"chargeops/backend/services/station-ops/internal/store"
)

// App wires station-ops dependencies.
type App struct {
	server      *httpserver.Server
	hub         *notify.Hub
	sched       *scheduler.Deferred
	pool        *pgxpool.Pool
	redisClient *redis.Client
	amqp        *events.AMQPPublisher
	localCache  *cache.LocalMetrics
	logger      *zap.Logger
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		metricsCache capacity.Cache
		active       *cache.ActiveSessions
	)
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		a.redisClient, err = libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		metricsCache = cache.NewRedisMetrics(a.redisClient, cfg.MetricsTTL())
		active = cache.NewActiveSessions(a.redisClient, cfg.ActiveSessionTTL())
	} else {
		a.localCache = cache.NewLocalMetrics(cfg.MetricsTTL())
		metricsCache = a.localCache
	}

	capacitySvc := capacity.NewService(st, metricsCache, nil, logger)
	a.hub = notify.NewHub(cfg.PingInterval(), cfg.WriteTimeout(), logger)

	sinks := []events.Publisher{
		events.NewLogPublisher(logger),
		metrics.EventCounter{},
		capacitySvc,
		a.hub,
	}
	if active != nil {
		sinks = append(sinks, active)
	}
	if strings.TrimSpace(cfg.AMQP.URL) != "" {
		a.amqp, err = events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, a.amqp)
	}
	pub := events.NewFanout(sinks...)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	a.sched = scheduler.New(logger)

	sessionsSvc := sessions.NewCoordinator(st, pub, sessions.Config{
		Zone:             cfg.Zone(),
		MinLead:          cfg.MinLead(),
		TaxRate:          cfg.Sessions.TaxRate,
		DefaultUnitPrice: cfg.Sessions.DefaultUnitPrice,
		Currency:         cfg.Sessions.Currency,
		QRTTL:            cfg.QRTTL(),
		OpTimeout:        cfg.OpTimeout(),
	}, logger)
	controlSvc := control.NewCoordinator(st, pub, a.sched, control.Config{
		RestartDelay: cfg.RestartDelay(),
		OpTimeout:    cfg.OpTimeout(),
	}, logger)

	routes := httpserver.Routes{
		Sessions:        handlers.NewSessionsHandlers(sessionsSvc, active, logger),
		Control:         handlers.NewControlHandlers(controlSvc, sessionsSvc, logger),
		StationCapacity: handlers.NewStationCapacityHandler(capacitySvc, logger),
		FleetCapacity:   handlers.NewFleetCapacityHandler(capacitySvc, logger),
		WebSocket:       a.hub.HandleWS,
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Health:          handlers.NewHealthHandler(a.healthChecks(), logger),
	}

	var auth func(next http.Handler) http.Handler
	if secret := strings.TrimSpace(cfg.JWT.Secret); secret != "" {
		auth = middleware.Auth(secret)
	} else {
		logger.Warn("jwt secret not configured, session and control routes are unauthenticated")
	}

	router := httpserver.NewRouter(routes, auth)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, cfg.ShutdownTimeout(), logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Driver != config.DriverPostgres {
		a.logger.Info("using in-memory storage")
		return memory.New(memory.WithLockWait(cfg.LockWait())), nil
	}

	pool, err := libdb.NewPostgresPool(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	st := postgres.New(pool, cfg.LockWait())
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (a *App) healthChecks() map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redisClient.Ping(ctx).Err() }
	}
	return checks
}

// Run serves HTTP and the websocket hub until ctx is done or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.sched != nil {
		a.sched.Close()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("failed to close amqp publisher", zap.Error(err))
		}
	}
	if a.localCache != nil {
		a.localCache.Stop()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
