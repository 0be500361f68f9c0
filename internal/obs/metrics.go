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

// HTTP metrics
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check passed.",
	})
)

// Identity flow metrics
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login steps by result.",
		},
		[]string{"result"},
	)

	codesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_second_factor_codes_issued_total",
		Help: "Second-factor codes persisted.",
	})

	codeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_second_factor_verifications_total",
			Help: "Second-factor verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	resetOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_reset_total",
			Help: "Password reset requests and redemptions by result.",
		},
		[]string{"result"},
	)

	notificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_notification_failures_total",
			Help: "Emails the notifier failed to deliver.",
		},
		[]string{"kind"},
	)

	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_delivery_attempts_total",
			Help: "Email delivery attempts by driver and result.",
		},
		[]string{"driver", "result"},
	)

	sweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sweep_deleted_total",
			Help: "Expired rows removed by the sweeper.",
		},
		[]string{"table"},
	)
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			loginAttempts, codesIssued, codeVerifications, resetOutcomes,
			notificationFailures, deliveryAttempts, sweepDeleted,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func LoginAttempt(result string) { loginAttempts.WithLabelValues(result).Inc() }
func CodeIssued() { codesIssued.Inc() }
func CodeVerified(outcome string) { codeVerifications.WithLabelValues(outcome).Inc() }
func ResetOutcome(result string) { resetOutcomes.WithLabelValues(result).Inc() }
func NotificationFailed(kind string) { notificationFailures.WithLabelValues(kind).Inc() }
func DeliveryAttempt(driver, result string) {
	deliveryAttempts.WithLabelValues(driver, result).Inc()
}
func SweepDeleted(table string, n int64) {
	if n > 0 {
		sweepDeleted.WithLabelValues(table).Add(float64(n))
	}
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses numeric path segments into ":id" so that label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
