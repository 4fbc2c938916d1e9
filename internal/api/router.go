// Package api provides the HTTP surface of the server: the websocket
// endpoint plus health and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peppy/osu-server-spectator/internal/config"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/system"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Router is the main HTTP router for the server.
type Router struct {
	*chi.Mux
	logger *utils.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(
	rpcServer *rpc.Server,
	healthService *system.HealthService,
	metricsService *system.MetricsService,
	cfg *config.Config,
	logger *utils.Logger,
) *Router {
	r := chi.NewRouter()
	apiLogger := logger.Named("api")

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newRecoverer(apiLogger))
	r.Use(newRequestLogger(apiLogger))
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		health := healthService.GetHealth(req.Context())

		status := http.StatusOK
		if health.Status == system.StatusDown {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(health); err != nil {
			apiLogger.Error("Failed to encode health response", err)
		}
	})

	r.Handle("/metrics", metricsService.Handler())

	// The websocket endpoint authenticates via bearer token and upgrades.
	r.Get("/ws", rpcServer.HandleWebSocket)

	return &Router{
		Mux:    r,
		logger: apiLogger,
	}
}

// newRecoverer converts handler panics into 500s instead of taking the
// connection down.
func newRecoverer(logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("HTTP handler panicked", nil,
						"panic", rec, "path", req.URL.Path)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, req)
		})
	}
}

// newRequestLogger logs each request with its duration and status.
func newRequestLogger(logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			logger.Debug("HTTP request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"requestId", middleware.GetReqID(req.Context()),
			)
		})
	}
}
