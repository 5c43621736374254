// Package stream serves a running watcher over HTTP: a websocket relay of
// its events, Prometheus metrics and a health endpoint.
package stream

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/metrics"
)

type Options struct {
	Source          Source
	Metrics         *metrics.Registry
	Logger          *logging.Logger
	AllowedOrigins  []string
	EventsPerSecond float64
	Tracer          trace.Tracer
}

// NewHandler routes /ws, /metrics and /healthz.
func NewHandler(options Options) http.Handler {
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	logger := options.Logger.ForCategory(logging.CategoryStream)
	mux := http.NewServeMux()
	mux.Handle("GET /ws", &EventsHandler{
		Source:          options.Source,
		Logger:          logger,
		AllowedOrigins:  options.AllowedOrigins,
		EventsPerSecond: options.EventsPerSecond,
		Tracer:          options.Tracer,
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := registry.WritePrometheus(w); err != nil {
			logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if options.Source == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "watcher unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, options.Source.Stats())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
