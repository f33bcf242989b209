package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sepsisguard/platform/internal/history"
	"github.com/sepsisguard/platform/internal/scoring"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/shared/database"
	"github.com/sepsisguard/platform/internal/shared/events"
	"github.com/sepsisguard/platform/internal/shared/logging"
	"github.com/sepsisguard/platform/internal/shared/metrics"
	secmiddleware "github.com/sepsisguard/platform/internal/shared/middleware"
	"github.com/sepsisguard/platform/internal/transform"
	"go.uber.org/zap"
)

// App holds all application dependencies
type App struct {
	Config  *config.Config
	DB      *database.DB
	Bus     *events.Bus
	Model   *scoring.HTTPScorer
	Service *scoring.Service
	Logger  *zap.Logger
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level)
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger}

	t, err := transform.Load(cfg.Scoring.ArtifactPath)
	if err != nil {
		logger.Fatal("failed to load transform artifact",
			zap.String("path", cfg.Scoring.ArtifactPath), zap.Error(err))
	}
	logger.Info("transform artifact loaded",
		zap.String("lineage", t.Lineage().String()),
		zap.Int("width", t.Width()),
	)

	var store history.Store = history.NewMemoryStore()
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("database not available", zap.Error(err))
		}
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		store = history.NewPostgresStore(db.Pool)
	} else {
		logger.Warn("database disabled, patient history is kept in memory")
	}

	var publisher events.Publisher = events.Discard{}
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(cfg.KurrentDB)
		if err != nil {
			logger.Warn("KurrentDB not available, running without event streaming", zap.Error(err))
		} else {
			app.Bus = bus
			defer bus.Close()
			publisher = bus
		}
	}

	app.Model = scoring.NewHTTPScorer(cfg.Scoring)
	discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = app.Model.DiscoverWidth(discoverCtx)
	cancel()
	if err != nil {
		logger.Fatal("model input width unknown, set SCORING_FEATURE_WIDTH or make the model metadata reachable", zap.Error(err))
	}
	service, err := scoring.NewService(t, app.Model, store, publisher,
		scoring.ConfigFrom(cfg.Pipeline, cfg.Scoring), logger)
	if err != nil {
		logger.Fatal("failed to start scoring service", zap.Error(err))
	}
	app.Service = service

	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))

	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler(app))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(secmiddleware.BodyLimit(1 << 20))
		r.Mount("/", scoring.NewHandler(service).Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("sepsis risk service starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Int("window_size", cfg.Pipeline.WindowSize),
		zap.Float64("decision_threshold", cfg.Pipeline.DecisionThreshold),
		zap.String("model", cfg.Scoring.ModelURL),
		zap.Bool("database", app.DB != nil),
		zap.Bool("kurrentdb", app.Bus != nil),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-done
	logger.Info("server stopped")
}

func infoHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := app.Service.Transform()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name":          "Sepsis Risk Scoring Service",
			"version":       "0.1.0",
			"lineage":       t.Lineage(),
			"feature_width": t.Width(),
			"window_size":   app.Config.Pipeline.WindowSize,
			"docs":          "/api/v1",
		})
	}
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server":    "ready",
			"transform": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := app.Model.Health(ctx); err != nil {
			checks["model"] = "not ready: " + err.Error()
		} else {
			checks["model"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
