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

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Total number of classification backend calls by outcome",
		},
		[]string{"backend", "outcome"},
	)
	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Classification backend call duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"backend"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	ConfidenceHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classification_confidence",
			Help:    "Distribution of returned classification confidence [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"backend"},
	)
	CascadeDepthHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routing_cascade_depth",
			Help:    "Number of backends consulted per classification",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	ExperimentAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_assignments_total",
			Help: "Requests assigned to each routing strategy",
		},
		[]string{"strategy"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_records_total",
			Help: "Feedback records by ingestion status",
		},
		[]string{"status"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(BackendRequestsTotal)
	prometheus.MustRegister(BackendRequestDuration)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(ConfidenceHistogram)
	prometheus.MustRegister(CascadeDepthHistogram)
	prometheus.MustRegister(ExperimentAssignmentsTotal)
	prometheus.MustRegister(FeedbackTotal)
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

// RecordBackendCall records one backend invocation outcome and duration.
// outcome is one of success, failure, timeout, rejected.
func RecordBackendCall(backend, outcome string, dur time.Duration) {
	BackendRequestsTotal.WithLabelValues(backend, outcome).Inc()
	BackendRequestDuration.WithLabelValues(backend).Observe(dur.Seconds())
}

// RecordCacheLookup records a per-tier cache lookup result.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// RecordClassification records the outcome distributions of a served result.
func RecordClassification(backend string, confidence float64, cascadeDepth int) {
	if confidence >= 0 && confidence <= 1 {
		ConfidenceHistogram.WithLabelValues(backend).Observe(confidence)
	}
	CascadeDepthHistogram.Observe(float64(cascadeDepth))
}

// RecordAssignment counts a request assigned to a strategy.
func RecordAssignment(strategy string) {
	ExperimentAssignmentsTotal.WithLabelValues(strategy).Inc()
}

// RecordFeedback counts feedback ingestion outcomes: accepted, dropped, failed.
func RecordFeedback(status string) {
	FeedbackTotal.WithLabelValues(status).Inc()
}
