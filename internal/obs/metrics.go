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

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики аутентификации
var (
	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	authValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_validations_total",
			Help: "Session token validations by result.",
		},
		[]string{"result"},
	)

	oauthLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_links_total",
			Help: "Completed account link callbacks by result.",
		},
		[]string{"result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service reports ready.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLogins, authValidations, oauthLinks, ready,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt. result is "success", "failure" or "error".
func ObserveLogin(result string) { authLogins.WithLabelValues(result).Inc() }

// ObserveValidation counts a session validation by error kind.
func ObserveValidation(result string) { authValidations.WithLabelValues(result).Inc() }

// ObserveLink counts an OAuth callback outcome.
func ObserveLink(result string) { oauthLinks.WithLabelValues(result).Inc() }

// SetReady flips the ready gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// OtherPath labels every request that matches no known route.
const OtherPath = "other"

var staticPaths = map[string]struct{}{
	"/":                  {},
	"/healthz":           {},
	"/readyz":            {},
	"/metrics":           {},
	"/user/register":     {},
	"/user/check_handle": {},
	"/user/login":        {},
	"/user/logout":       {},
	"/users/me":          {},
	"/oauth/twitter":     {},
	"/oauth/twitter/new": {},
}

// CanonicalPath collapses ids in known routes and folds everything else into
// OtherPath so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "users" && parts[2] == "circles":
		return "/users/:id/circles/:circle_id"
	case len(parts) == 3 && parts[0] == "users" && parts[2] == "role":
		return "/users/:id/role"
	case len(parts) == 3 && parts[0] == "circles" && parts[2] == "permission":
		return "/circles/:circle_id/permission"
	}
	if _, ok := staticPaths[path]; ok {
		return path
	}
	return OtherPath
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
