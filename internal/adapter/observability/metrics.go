package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_scheduled_total",
			Help: "Total number of jobs written to the scheduled set",
		},
		[]string{"type"},
	)
	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of claim attempts by outcome (claimed, lost_race)",
		},
		[]string{"outcome"},
	)
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs this worker is currently processing",
		},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of completed jobs by result (success, retry, terminal)",
		},
		[]string{"result"},
	)
	StuckJobsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stuck_jobs_recovered_total",
			Help: "Total number of jobs returned from processing to scheduled by the recovery loop",
		},
	)

	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_calls_total",
			Help: "Total number of outbound external API calls by service and endpoint",
		},
		[]string{"service", "endpoint", "status"},
	)
	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_duration_seconds",
			Help:    "Outbound external API call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "endpoint"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter admission decisions by service (allowed, refused)",
		},
		[]string{"service", "decision"},
	)

	ConditionsEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_conditions_evaluated_total",
			Help: "Rule condition evaluations by outcome (met, not_met)",
		},
		[]string{"outcome"},
	)
	ActionsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_actions_dispatched_total",
			Help: "Campaign actions dispatched by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)
)

// InitMetrics registers every collector with the default registry. Call once
// per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsScheduledTotal)
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(StuckJobsRecoveredTotal)
	prometheus.MustRegister(ExternalCallsTotal)
	prometheus.MustRegister(ExternalCallDuration)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(ConditionsEvaluatedTotal)
	prometheus.MustRegister(ActionsDispatchedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveExternalCall records one outbound call's outcome and latency.
func ObserveExternalCall(service, endpoint, status string, d time.Duration) {
	ExternalCallsTotal.WithLabelValues(service, endpoint, status).Inc()
	ExternalCallDuration.WithLabelValues(service, endpoint).Observe(d.Seconds())
}
