package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go-watchlist/internal/config"
	"go-watchlist/internal/database"
	"go-watchlist/internal/event"
	"go-watchlist/internal/handler"
	"go-watchlist/internal/metrics"
	"go-watchlist/internal/middleware"
	"go-watchlist/internal/repository"
	"go-watchlist/internal/router"
	"go-watchlist/internal/service"
	"go-watchlist/internal/token"
	"go-watchlist/internal/validation"
)

// Stores are the persistence backends the services run on.
type Stores struct {
	Users    service.UserStore
	Sessions service.SessionStore
	Audit    service.AuditStore
	Health   map[string]handler.HealthCheck
}

// MemoryStores keeps everything in process memory.
func MemoryStores() Stores {
	return Stores{
		Users:    repository.NewMemoryUserRepository(),
		Sessions: repository.NewMemorySessionRepository(),
		Audit:    repository.NewMemoryAuditRepository(),
		Health:   map[string]handler.HealthCheck{},
	}
}

// Runtime is the assembled HTTP surface plus its background workers.
type Runtime struct {
	Handler http.Handler
	Auth    *service.AuthService
	Metrics *metrics.Metrics
	Bus     *event.InMemoryBus
	cancel  context.CancelFunc
}

func (rt *Runtime) Close() {
	if rt != nil && rt.cancel != nil {
		rt.cancel()
	}
}

type BuildOption func(*buildOptions)

type buildOptions struct {
	issuerOpts []token.Option
}

func WithIssuerOptions(opts ...token.Option) BuildOption {
	return func(b *buildOptions) {
		b.issuerOpts = append(b.issuerOpts, opts...)
	}
}

// Build wires services, subscribers and routes on top of stores.
func Build(cfg *config.Config, stores Stores, opts ...BuildOption) (*Runtime, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, bo.issuerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	m := metrics.New()

	authService, err := service.NewAuthService(stores.Users, stores.Sessions, issuer,
		service.WithBcryptCost(cfg.BcryptCost),
		service.WithEventBus(bus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	auditService := service.NewAuditService(stores.Audit)

	ctx, cancel := context.WithCancel(context.Background())

	auditEvents, unsubscribeAudit := bus.Subscribe()
	metricEvents, unsubscribeMetrics := bus.Subscribe()
	go func() {
		<-ctx.Done()
		unsubscribeAudit()
		unsubscribeMetrics()
	}()
	go auditService.Consume(ctx, auditEvents)
	go m.Consume(ctx, metricEvents)
	go authService.StartSessionCleanup(ctx, cfg.SessionCleanupInterval)

	if err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		cancel()
		return nil, err
	}

	health := stores.Health
	if health == nil {
		health = map[string]handler.HealthCheck{}
	}

	handlers := router.Handlers{
		Auth:    handler.NewAuthHandler(authService, validation.New(), handler.NewCookieConfig(cfg.CookieSecure)),
		User:    handler.NewUserHandler(authService),
		Audit:   handler.NewAuditHandler(auditService),
		Health:  handler.NewHealthHandler(health),
		Metrics: m.Handler(),
	}

	return &Runtime{
		Handler: router.New(cfg, middleware.NewAuthMiddleware(issuer), handlers, proxies, m),
		Auth:    authService,
		Metrics: m,
		Bus:     bus,
		cancel:  cancel,
	}, nil
}

type App struct {
	cfg          *config.Config
	server       *http.Server
	runtime      *Runtime
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	stores, closers, err := openStores(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	runtime, err := Build(cfg, stores)
	if err != nil {
		closeAll()
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		cfg:     cfg,
		server:  server,
		runtime: runtime,
		cleanupFuncs: []func(){
			runtime.Close,
			closeAll,
		},
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config) (Stores, []func(), error) {
	if cfg.SessionStore == config.StoreMemory {
		slog.Warn("using in-memory stores; all sessions are lost on restart")
		return MemoryStores(), nil, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, database.Options{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		return Stores{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closers := []func(){db.Close}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return Stores{}, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	stores := Stores{
		Users:    repository.NewUserRepository(db.Pool),
		Sessions: repository.NewSessionRepository(db.Pool),
		Audit:    repository.NewAuditRepository(db.Pool),
		Health:   map[string]handler.HealthCheck{"postgres": db.Health},
	}

	if cfg.SessionStore == config.StoreRedis {
		rdb, err := database.OpenRedis(ctx, database.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			db.Close()
			return Stores{}, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		stores.Sessions = repository.NewRedisSessionRepository(rdb, cfg.RedisPrefix)
		stores.Health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	slog.Info("stores ready", "session_store", cfg.SessionStore)
	return stores, closers, nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	// drain requests before closing the stores they use
	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
}
