package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"volunteersync.org/internal/audit"
	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/obs"
	"volunteersync.org/internal/registry"
)

const serviceName = "volunteersync-api"

// Pinger is implemented by the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Auth     *auth.Service
	Registry *registry.Service
	Audit    *audit.Log
	Logger   *slog.Logger
	Ready    readinessChecker
}

// Options tune the middleware chain.
type Options struct {
	Version      string
	MaxBodyBytes int64
	CORSOrigins  []string
	AuthRPS      float64
	AuthBurst    int

	// TrustedProxies may set X-Forwarded-For; see ParseTrustedProxies.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	registry *registry.Service
	audit    *audit.Log
	logger   *slog.Logger
	ready    readinessChecker
	limiter  *RateLimiter
	opts     Options
}

func New(d Deps, opts Options) *API {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.AuthRPS <= 0 {
		opts.AuthRPS = 5
	}
	if opts.AuthBurst <= 0 {
		opts.AuthBurst = 10
	}
	a := &API{
		mux:      http.NewServeMux(),
		auth:     d.Auth,
		registry: d.Registry,
		audit:    d.Audit,
		logger:   d.Logger,
		ready:    d.Ready,
		limiter:  NewRateLimiter(opts.AuthRPS, opts.AuthBurst).TrustProxies(opts.TrustedProxies),
		opts:     opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	limited := a.limiter.Middleware
	a.mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /api/auth/verify-2fa", limited(http.HandlerFunc(a.handleVerifyTwoFactor)))
	a.mux.Handle("POST /api/auth/forgot-password", limited(http.HandlerFunc(a.handleForgotPassword)))
	a.mux.Handle("POST /api/auth/reset-password", limited(http.HandlerFunc(a.handleResetPassword)))
	a.mux.Handle("POST /api/auth/register", limited(http.HandlerFunc(a.handleRegister)))
	a.mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	a.mux.Handle("GET /api/auth/me", a.protect(auth.CapViewProfile, a.handleMe))

	a.mux.Handle("POST /api/locations", a.protect(auth.CapManageLocations, a.handleCreateLocation))
	a.mux.Handle("GET /api/locations/{id}", a.protect(auth.CapReadLocations, a.handleGetLocation))
	a.mux.Handle("PUT /api/locations/{id}", a.protect(auth.CapManageLocations, a.handleUpdateLocation))
	a.mux.Handle("GET /api/locations/{id}/province", a.protect(auth.CapReadLocations, a.handleProvince))

	a.mux.Handle("GET /api/volunteers/{id}", a.protect(auth.CapViewProfile, a.handleGetVolunteer))
	a.mux.Handle("PUT /api/volunteers/{id}", a.protect(auth.CapEditOwnProfile, a.handleUpdateVolunteer))

	a.mux.Handle("POST /api/ngos", a.protect(auth.CapManageNGOs, a.handleCreateNGO))
	a.mux.Handle("PUT /api/ngos/{id}/admin", a.protect(auth.CapManageNGOs, a.handleLinkAdmin))
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.logger)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
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

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func (a *API) record(r *http.Request, event string, fields map[string]any) {
	if err := a.audit.Event(r.Context(), event, fields); err != nil {
		a.logger.WarnContext(r.Context(), "audit event dropped", "event", event, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
