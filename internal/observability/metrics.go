package observability

import (
	"net/http"
	"strconv"
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

	PromptsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_prompts_submitted_total",
			Help: "Total number of prompts accepted into the queue",
		},
	)
	DispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_dispatches_total",
			Help: "Total number of generations dispatched to workers",
		},
	)
	FulfilmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_fulfilments_total",
			Help: "Total number of generations delivered by workers",
		},
	)
	StalePromptsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_stale_prompts_evicted_total",
			Help: "Total number of prompts evicted by the staleness janitor",
		},
	)
	KudosTransferredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_kudos_transferred_total",
			Help: "Total kudos moved between users",
		},
	)
	QueuedIterations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_queued_iterations",
			Help: "Iterations waiting for dispatch across all prompts",
		},
	)
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_active_workers",
			Help: "Workers inside their check-in window",
		},
	)
)

// InitMetrics registers all Prometheus metrics once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PromptsSubmittedTotal)
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(FulfilmentsTotal)
	prometheus.MustRegister(StalePromptsEvictedTotal)
	prometheus.MustRegister(KudosTransferredTotal)
	prometheus.MustRegister(QueuedIterations)
	prometheus.MustRegister(ActiveWorkers)
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
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
