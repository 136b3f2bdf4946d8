package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	suspensionLifts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_suspension_lifts_total",
		Help: "Expired temporary suspensions lifted on observation.",
	})

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validator_cache_lookups_total",
			Help: "Validation cache lookups by result (hit, miss, expired).",
		},
		[]string{"result"},
	)

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_cache_entries",
		Help: "Entries currently held by the validation cache.",
	})

	issuerCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validator_issuer_call_duration_seconds",
			Help:    "Latency of token validation calls to the issuer by outcome.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, suspensionLifts,
			cacheLookups, cacheEntries, issuerCalls,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLogin counts a login attempt; outcome is "success" or an error reason.
func RecordLogin(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordSuspensionLift counts a lazily lifted suspension.
func RecordSuspensionLift() {
	suspensionLifts.Inc()
}

// RecordCacheLookup counts a validation cache lookup.
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries publishes the current cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// ObserveIssuerCall records one validation round-trip to the issuer.
func ObserveIssuerCall(outcome string, d time.Duration) {
	issuerCalls.WithLabelValues(outcome).Observe(d.Seconds())
}

// Instrument measures request count, latency and concurrency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.Code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses user ids so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 4 && parts[0] == "admin" && parts[1] == "users" {
		switch parts[3] {
		case "role", "suspend", "unsuspend":
			return "/admin/users/:id/" + parts[3]
		}
	}
	return path
}

// StatusWriter remembers the response code written by the wrapped handler.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers work through the wrapper.
func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
