package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/audiosplicer/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics. Nil uses the default Prometheus registry.
	Metrics http.Handler
	// RequestMetrics records request latency. Nil disables it.
	RequestMetrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter wires the splice API onto a method-routed ServeMux.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /splices", h.ListSplices)
	mux.HandleFunc("POST /splices", h.CreateSplice)
	mux.HandleFunc("GET /splices/{id}", h.GetSplice)
	mux.HandleFunc("DELETE /splices/{id}", h.DeleteSplice)
	mux.HandleFunc("GET /splices/{id}/output", h.DownloadOutput)
	mux.HandleFunc("GET /splices/{id}/playlist", h.DownloadPlaylist)
	mux.HandleFunc("POST /durations", h.Durations)

	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, cfg.RequestMetrics),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
