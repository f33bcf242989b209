package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Serving metrics
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_submissions_total",
			Help: "Hourly submissions by outcome",
		},
		[]string{"outcome"},
	)

	validationViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_validation_violations_total",
			Help: "Physiological bound violations by field",
		},
		[]string{"field"},
	)

	scoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sepsis_scoring_duration_seconds",
			Help:    "Scoring function latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"mode", "status"},
	)

	riskTiers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_tier_total",
			Help: "Assessments by risk tier",
		},
		[]string{"tier"},
	)

	decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_decision_total",
			Help: "Assessments by binary decision flag",
		},
		[]string{"flag"},
	)

	paddedWindows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sepsis_padded_windows_total",
			Help: "Incremental windows that needed sentinel padding",
		},
	)

	// Pipeline metrics
	batchWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_batch_windows_total",
			Help: "Windows produced by batch construction, by split",
		},
		[]string{"split"},
	)

	transformFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_transform_failures_total",
			Help: "Records rejected during feature transformation",
		},
		[]string{"column"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern prefers the chi route template so patient IDs do not become
// label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	if strings.HasPrefix(path, "/api/v1/patients/") {
		return "/api/v1/patients/{id}"
	}
	return path
}

// --- Serving metric helpers ---

// RecordSubmission records the outcome of an hourly submission
// (scored, rejected, failed).
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordViolation records one rejected field.
func RecordViolation(field string) {
	validationViolations.WithLabelValues(field).Inc()
}

// RecordScoring records a call to the scoring function.
func RecordScoring(mode string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	scoringDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// RecordAssessment records the tier and decision of a served assessment.
func RecordAssessment(tier string, flag bool, padded bool) {
	riskTiers.WithLabelValues(tier).Inc()
	decisions.WithLabelValues(strconv.FormatBool(flag)).Inc()
	if padded {
		paddedWindows.Inc()
	}
}

// --- Pipeline metric helpers ---

// RecordBatchWindows records windows assigned to a split.
func RecordBatchWindows(split string, count int) {
	batchWindows.WithLabelValues(split).Add(float64(count))
}

// RecordTransformFailure records a record rejected by the transform.
func RecordTransformFailure(column string) {
	transformFailures.WithLabelValues(column).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
