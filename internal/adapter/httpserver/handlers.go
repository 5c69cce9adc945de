package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/adweave/skytrigger/internal/engine"
)

// StatsSource is the slice of the engine the ops endpoints read from.
type StatsSource interface {
	EngineStats(ctx context.Context) (engine.Stats, error)
}

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

// Server exposes the worker's operational endpoints.
type Server struct {
	stats      StatsSource
	dbCheck    Check
	redisCheck Check
}

// NewServer wires the ops server from its stats source and readiness checks.
func NewServer(stats StatsSource, dbCheck, redisCheck Check) *Server {
	return &Server{stats: stats, dbCheck: dbCheck, redisCheck: redisCheck}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// ReadyzHandler reports readiness: both the durable store and the
// coordination store must answer within the probe deadline.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]Check{
			"db":    s.dbCheck,
			"redis": s.redisCheck,
		}
		failures := map[string]string{}
		for name, check := range checks {
			if check == nil {
				failures[name] = "not configured"
				continue
			}
			if err := check(ctx); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"failures": failures,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// StatsHandler serves the aggregate engine snapshot.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.stats.EngineStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// WorkersHandler serves the registered worker list.
func (s *Server) WorkersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.stats.EngineStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workers": stats.Workers})
	}
}
