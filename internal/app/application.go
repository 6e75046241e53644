package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/database"
	"github.com/R3E-Network/user_service/internal/health"
	"github.com/R3E-Network/user_service/internal/httputil"
	"github.com/R3E-Network/user_service/internal/logging"
	"github.com/R3E-Network/user_service/internal/middleware"
	"github.com/R3E-Network/user_service/internal/users"
)

const limiterCleanupInterval = 5 * time.Minute

// Dependencies overrides the infrastructure the application would otherwise
// build from configuration. Nil fields use the defaults.
type Dependencies struct {
	Logger      *logging.Logger
	Driver      database.Driver
	Collections users.CollectionProvider
	Users       users.Repository
	// OnFatal replaces the logger's Fatal exit when the database cannot be
	// reached in production.
	OnFatal func(error)
}

// Application ties the components together and manages their lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logging.Logger
	db         *database.Manager
	classifier *health.Classifier
	ipLimiter  *middleware.RateLimiter
	limiter    *middleware.RateLimiter
	handler    http.Handler
	server     *http.Server
}

// New builds the application from cfg.
func New(cfg *config.Config, deps Dependencies) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	env := cfg.Environment()
	uri := cfg.Database.TargetURI(env)

	log := deps.Logger
	if log == nil {
		log = logging.New(cfg.Service, cfg.Logging.Level, cfg.Logging.Format)
	}

	driver := deps.Driver
	collections := deps.Collections
	if driver == nil {
		mongoDriver := database.NewMongoDriver(database.MongoConfig{
			URI:                    uri,
			AppName:                cfg.Service,
			MaxPoolSize:            cfg.Database.MaxPoolSize,
			MinPoolSize:            cfg.Database.MinPoolSize,
			ConnectTimeout:         cfg.Database.ConnectTimeout,
			ServerSelectionTimeout: cfg.Database.ServerSelectionTimeout,
			OperationTimeout:       cfg.Database.OperationTimeout,
		})
		driver = mongoDriver
		if collections == nil {
			collections = mongoDriver
		}
	}

	onFatal := deps.OnFatal
	if onFatal == nil {
		onFatal = func(err error) {
			log.WithError(err).Fatal("Database unavailable, exiting")
		}
	}

	db := database.NewManager(driver, database.ManagerConfig{
		URI: uri,
		Retry: database.RetryPolicy{
			MaxAttempts: cfg.Database.MaxRetries,
			BaseDelay:   cfg.Database.RetryDelay,
			Multiplier:  cfg.Database.RetryMultiplier,
		},
		Failure:     database.FailurePolicyFor(env.IsProduction()),
		OnFatal:     onFatal,
		PingTimeout: cfg.Health.CheckTimeout,
		Logger:      log,
	})

	repo := deps.Users
	if repo == nil {
		if collections == nil {
			return nil, errors.New("a users repository or collection provider is required")
		}
		mongoRepo := users.NewMongoRepository(collections)
		db.RegisterIndexes(mongoRepo.EnsureIndexes)
		repo = mongoRepo
	}

	classifier := health.NewClassifier(health.Options{
		Service:          cfg.Service,
		Environment:      string(env),
		Connection:       db,
		CheckTimeout:     cfg.Health.CheckTimeout,
		ReadinessTimeout: cfg.Health.ReadinessTimeout,
		Logger:           log,
	})
	classifier.Register(
		health.ApplicationProbe(health.AppInfo{
			Name:        cfg.Service,
			Version:     cfg.Version,
			Environment: string(env),
		}, time.Now()),
		health.ConnectionProbe(db),
		health.MemoryProbe(cfg.Health.MemoryWarnPercent),
		health.CPUProbe(cfg.Health.CPUWarnPercent),
		health.DiskProbe(cfg.Health.DiskPath, cfg.Health.DiskWarnPercent),
		health.EnvironmentProbe(cfg.RequiredSettings),
		health.DependenciesProbe(),
	)

	a := &Application{
		cfg:        cfg,
		log:        log,
		db:         db,
		classifier: classifier,
		ipLimiter:  middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, log),
		limiter:    middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, log),
	}
	a.handler = a.routes(users.NewService(repo, log))
	a.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func (a *Application) routes(svc *users.Service) http.Handler {
	rs := httputil.NewResponder(a.log, a.cfg.Environment())

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Use(middleware.MetricsMiddleware())

	health.NewHandler(a.classifier, rs).Register(r)

	api := users.NewHandler(svc, rs).Register(r)
	if secret := a.cfg.Security.JWTSecret; secret != "" {
		api.Use(
			a.ipLimiter.IPHandler,
			middleware.NewAuthMiddleware(secret, a.log, nil).Handler,
			a.limiter.Handler,
		)
	} else {
		a.log.Warn("JWT_SECRET not set, user routes are unauthenticated")
		api.Use(a.ipLimiter.IPHandler)
	}

	var h http.Handler = r
	h = middleware.Recovery(rs)(h)
	h = middleware.NewCORSMiddleware(a.cfg.AllowedOrigins()).Handler(h)
	h = middleware.NewTracingMiddleware(a.log).Handler(h)
	return h
}

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Database returns the connection manager.
func (a *Application) Database() *database.Manager {
	return a.db
}

// Run connects to the database, then serves HTTP until ctx is cancelled or
// the listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.db.Connect(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	go a.ipLimiter.Run(ctx, limiterCleanupInterval)
	go a.limiter.Run(ctx, limiterCleanupInterval)

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled or the listener fails.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", ln.Addr().String()).
			WithField("environment", a.cfg.Environment()).
			Info("HTTP server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and closes the database connection. A
// failing disconnect is logged, not returned.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := a.db.Disconnect(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("Error closing database connection")
	}
	return nil
}
