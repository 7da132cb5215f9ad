package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"neon.nuty.works/internal/audit"
	"neon.nuty.works/internal/auth"
	"neon.nuty.works/internal/oauthlink"
	"neon.nuty.works/internal/obs"
)

const serviceName = "neon-auth"

// Pinger is implemented by the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// CookieConfig sets the attributes of the session cookie.
type CookieConfig struct {
	Domain string
	Secure bool
}

// Config wires the API to its collaborators.
type Config struct {
	Version string
	Ready   readinessChecker
	Auth    *auth.Service
	// Link is optional; linking routes are not mounted without it.
	Link   *oauthlink.Flow
	Audit  *audit.Recorder
	Cookie CookieConfig

	LinkLandingPath string

	// Per-IP token bucket on login and registration. Zero disables limiting.
	LoginRatePerSec float64
	LoginRateBurst  int

	// CORSOrigins are matched exactly; add local dev origins here as needed.
	CORSOrigins []string
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string
}

// API: HTTP слой.
type API struct {
	mux     *http.ServeMux
	ready   readinessChecker
	version string

	auth    *auth.Service
	link    *oauthlink.Flow
	audit   *audit.Recorder
	cookie  CookieConfig
	landing string
	origins []string
	proxies TrustedProxies
}

func New(cfg Config) (*API, error) {
	if cfg.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	ready := cfg.Ready
	if ready == nil {
		ready = ReadyProbe{}
	}
	landing := cfg.LinkLandingPath
	if landing == "" {
		landing = "/profile"
	}
	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		mux:     http.NewServeMux(),
		ready:   ready,
		version: cfg.Version,
		auth:    cfg.Auth,
		link:    cfg.Link,
		audit:   cfg.Audit,
		cookie:  cfg.Cookie,
		landing: landing,
		origins: cfg.CORSOrigins,
		proxies: proxies,
	}

	limit := func(h http.HandlerFunc) http.Handler {
		if cfg.LoginRatePerSec <= 0 || cfg.LoginRateBurst <= 0 {
			return h
		}
		return RateLimit(h, cfg.LoginRateBurst, cfg.LoginRatePerSec, a.proxies)
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// accounts and sessions
	a.mux.Handle("/user/register", limit(a.handleRegister))
	a.mux.HandleFunc("/user/check_handle", a.handleCheckHandle)
	a.mux.Handle("/user/login", limit(a.handleLogin))
	a.mux.HandleFunc("/user/logout", a.withSession(a.handleLogout))
	a.mux.HandleFunc("/users/me", a.withSession(a.handleMe))

	// moderation and authorization
	a.mux.HandleFunc("/users/{id}/circles/{circle_id}", a.withSession(a.handleUserCircle))
	a.mux.HandleFunc("/users/{id}/role", a.withSession(a.handleUserRole))
	a.mux.HandleFunc("/circles/{circle_id}/permission", a.withSession(a.handleCirclePermission))

	// account linking
	if a.link != nil {
		a.mux.HandleFunc("/oauth/twitter/new", a.withSession(a.handleLinkStart))
		a.mux.HandleFunc("/oauth/twitter", a.handleLinkCallback)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found")
	})

	return a, nil
}

// Handler возвращает http.Handler для сервера со всеми middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.proxies)
	h = RequestID(h)
	// оборачиваем весь стек метриками
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Error("readiness check failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) record(ctx context.Context, event string, fields map[string]any) {
	if err := a.audit.Record(ctx, event, fields); err != nil {
		obs.Error("audit append failed", err, map[string]any{"event": event})
	}
}
