// Package app assembles the worker's operational HTTP handler and its
// readiness checks.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adweave/skytrigger/internal/adapter/httpserver"
	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input means every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the ops HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Probes and metrics stay unthrottled so orchestration never gets 429s.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	r.Group(func(gr chi.Router) {
		gr.Use(httprate.LimitByIP(cfg.OpsRatePerMin, time.Minute))
		gr.Get("/stats", srv.StatsHandler())
		gr.Get("/workers", srv.WorkersHandler())
	})

	return httpserver.SecurityHeaders(r)
}
