package main

import (
	"net/http"
	"time"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/handlers"
	"go.uber.org/zap"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux *http.ServeMux
	c   *container
}

// NewApp creates a new application with all routes configured.
func NewApp(c *container) *App {
	app := &App{mux: http.NewServeMux(), c: c}
	app.setupRoutes()
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Operational routes
	// ─────────────────────────────────────────────────────────────────────────
	a.mux.HandleFunc("GET /healthz", a.health)
	a.mux.Handle("GET /metrics", a.c.metrics.Handler())

	// ─────────────────────────────────────────────────────────────────────────
	// Billing API
	// ─────────────────────────────────────────────────────────────────────────
	log := a.c.log
	handlers.NewPrefacturationHandler(a.c.prefacturations, log).Register(a.mux)
	handlers.NewBlockHandler(a.c.blocks, log).Register(a.mux)
	handlers.NewVigilanceHandler(a.c.compliance, log).Register(a.mux)
	handlers.NewDisputeHandler(a.c.disputes, log).Register(a.mux)
	handlers.NewExportHandler(a.c.exports, log).Register(a.mux)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err == nil && a.c.redis != nil {
		err = a.c.redis.Ping(r.Context()).Err()
	}
	if err != nil {
		a.c.log.Warn("health check failed", zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging middleware.
func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
