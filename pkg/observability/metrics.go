package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Issuance outcome labels.
const (
	OutcomeIssued          = "issued"
	OutcomeRedirect        = "redirect"
	OutcomeAccessDenied    = "access_denied"
	OutcomeValidationError = "validation_error"
	OutcomeSignerError     = "signer_error"
)

// Lookup outcome labels.
const (
	LookupMatch   = "match"
	LookupNoMatch = "no_match"
	LookupError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Directory metrics
	DirectoryLookupsTotal   *prometheus.CounterVec
	DirectoryLookupDuration *prometheus.HistogramVec

	// Issuance metrics
	IssuanceTotal    *prometheus.CounterVec
	IssuanceDuration *prometheus.HistogramVec

	// Auto-auth agent metrics (exported when the agent runs embedded)
	AutoAuthTransitionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mockidp_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mockidp_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DirectoryLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mockidp_directory_lookups_total",
				Help: "Total number of directory lookups",
			},
			[]string{"attribute", "outcome"},
		),
		DirectoryLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mockidp_directory_lookup_duration_seconds",
				Help:    "Directory lookup duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"attribute"},
		),
		IssuanceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mockidp_issuance_total",
				Help: "Total number of assertion issuance attempts by outcome",
			},
			[]string{"policy", "outcome"},
		),
		IssuanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mockidp_issuance_duration_seconds",
				Help:    "Assertion issuance duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		),
		AutoAuthTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mockidp_autoauth_transitions_total",
				Help: "Total number of auto-auth state machine transitions",
			},
			[]string{"from", "to"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DirectoryLookupsTotal,
		m.DirectoryLookupDuration,
		m.IssuanceTotal,
		m.IssuanceDuration,
		m.AutoAuthTransitionsTotal,
	)

	return m
}

// ObserveLookup records one directory lookup.
func (m *Metrics) ObserveLookup(attribute, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DirectoryLookupsTotal.WithLabelValues(attribute, outcome).Inc()
	m.DirectoryLookupDuration.WithLabelValues(attribute).Observe(duration.Seconds())
}

// ObserveIssuance records one issuance attempt.
func (m *Metrics) ObserveIssuance(policy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IssuanceTotal.WithLabelValues(policy, outcome).Inc()
	m.IssuanceDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
