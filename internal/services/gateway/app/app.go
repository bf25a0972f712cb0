package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sensordash/internal/services/aggregator"
	"github.com/LeonardoBeccarini/sensordash/internal/services/controller"
)

// Dashboard is the read side of the aggregator.
type Dashboard interface {
	Snapshot() aggregator.DashboardState
	Subscribe() (<-chan aggregator.DashboardState, func())
}

// Controller is the error/retry state machine as seen by the HTTP surface.
type Controller interface {
	State() controller.State
	Err() string
	Retry(ctx context.Context) error
}

// Dependency is a named liveness check for an external collaborator.
type Dependency struct {
	Name string
	OK   func() bool
}

type Config struct {
	Dashboard    Dashboard
	Controller   Controller
	Dependencies []Dependency

	// Gatherer backs /metrics; prometheus.DefaultGatherer if nil.
	Gatherer prometheus.Gatherer

	RetryTimeout time.Duration
	// PingInterval keeps idle websocket streams alive.
	PingInterval time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins lists the cross-origin pages that may open the stream,
	// e.g. "http://localhost:3000". Only same-origin pages when empty.
	AllowedOrigins []string

	Logger *slog.Logger
}

type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Gateway{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "gateway"),
		upgrader: newUpgrader(cfg.AllowedOrigins),
	}
}

// Routes returns the HTTP surface of the dashboard.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboard/state", g.HandleState)
	mux.HandleFunc("POST /dashboard/retry", g.HandleRetry)
	mux.HandleFunc("GET /dashboard/stream", g.HandleStream)
	mux.HandleFunc("GET /healthz", g.HandleHealth)
	mux.HandleFunc("GET /readyz", g.HandleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(g.cfg.Gatherer, promhttp.HandlerOpts{}))
	return g.logRequests(mux)
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
