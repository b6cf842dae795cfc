// Package app wires the application together: configuration, storage,
// services, the HTTP router and the process lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"subgate/internal/config"
	"subgate/internal/devices"
	"subgate/internal/infrastructure"
	"subgate/internal/middleware"
	"subgate/internal/services"
	"subgate/internal/sessions"
	"subgate/internal/shared/locking"
	"subgate/internal/storage"
	transport "subgate/internal/transport/http"
)

// Application is the dependency container and process lifecycle owner.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB
	Router chi.Router

	tracing      *infrastructure.TracerProvider
	sessionStore *sessions.Store
	server       *http.Server
}

// NewApplication builds the full dependency graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	tracing, err := infrastructure.InitializeTracing(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		tracing: tracing,
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

// setupRouter assembles the middleware chain and mounts the handlers.
// The one keyed mutex shared by the device registry and the session store
// is created here: both admission checks for a tenant serialize on it.
func (a *Application) setupRouter() {
	locks := locking.NewKeyedMutex()

	tenants := storage.NewTenantRepository(a.DB)
	plans := storage.NewPlanRepository(a.DB)
	subscriptions := storage.NewSubscriptionRepository(a.DB, a.Config.Licensing.DefaultMaxDevices)
	usage := storage.NewUsageLogRepository(a.DB, a.Logger)

	registry := devices.NewRegistry(a.DB, locks, a.Config.Licensing.DefaultMaxDevices, a.Logger)
	a.sessionStore = sessions.NewStore(a.DB, locks,
		a.Config.Licensing.SessionTTL,
		a.Config.Licensing.OtherDeviceSessionLimit(),
		a.Logger,
	)

	verification := services.NewVerificationService(subscriptions, registry, a.sessionStore, usage, a.Logger)
	admin := services.NewAdminService(tenants, plans, subscriptions, registry, a.sessionStore, a.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Probes and metrics stay outside the logging and rate-limit chain.
	health := transport.NewHealthHandler(a.DB, a.Logger)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.Logger))
		r.Use(middleware.Metrics)
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.Compress(5))
		r.Use(middleware.Timeout(a.Config.Server.ReadTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/api", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if a.Config.Security.RateLimit.Enabled {
					r.Use(middleware.NewRateLimiter(
						a.Config.Security.RateLimit.RPS,
						a.Config.Security.RateLimit.Burst,
						a.Logger,
					).Handler)
				}
				r.Use(middleware.TenantAuth(a.Logger, tenants))
				r.Mount("/subscription", transport.NewSubscriptionHandler(verification, a.Logger).Routes())
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(a.Logger, a.Config.Security.AdminToken))
				r.Mount("/admin", transport.NewAdminHandler(admin, a.Logger).Routes())
			})
		})
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the HTTP server and the background session sweeper, then
// blocks until SIGINT/SIGTERM or a fatal component error.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting",
			slog.String("addr", a.server.Addr),
			slog.String("driver", a.Config.Database.Driver),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.runSweeper(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runSweeper periodically deletes expired sessions. The opportunistic sweep
// during session creation covers busy tenants; this timer covers idle ones.
func (a *Application) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(a.Config.Licensing.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := a.sessionStore.Sweep(ctx)
			if err != nil {
				a.Logger.Error("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				a.Logger.Info("session sweep completed", slog.Int64("removed", removed))
			}
		}
	}
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.Logger.Info("shutting down")
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.Logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
