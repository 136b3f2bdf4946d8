// Package httpapi is the HTTP surface of the identity service.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/obs"
)

// ReadyChecker reports whether the backing store is reachable.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

// Options tune the HTTP layer.
type Options struct {
	Version string
	// SecureCookies sets the Secure attribute on the refresh cookie.
	SecureCookies bool
	// RatePerSecond and RateBurst throttle credential endpoints per client IP.
	RatePerSecond float64
	RateBurst     int
	// TrustedProxies may supply X-Forwarded-For for rate limiting and audit.
	TrustedProxies httpx.TrustedProxies
}

// API wires the issuer service to HTTP.
type API struct {
	svc     *auth.Service
	ready   ReadyChecker
	opts    Options
	limiter *httpx.RateLimiter
	router  chi.Router
}

// New builds the router. ready may be nil, in which case svc.Ping is used.
func New(svc *auth.Service, ready ReadyChecker, opts Options) *API {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if ready == nil {
		ready = svc
	}
	a := &API{
		svc:     svc,
		ready:   ready,
		opts:    opts,
		limiter: httpx.NewRateLimiter(opts.RatePerSecond, opts.RateBurst, httpx.WithTrustedProxies(opts.TrustedProxies)),
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpx.RequestID,
		httpx.Recover,
		httpx.Logging,
		httpx.SecurityHeaders,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteMessage(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/register", a.handleRegister)
	})
	r.Post("/logout", a.handleLogout)
	r.Post("/validate-token", a.handleValidateToken)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Get("/me", a.handleMe)
		r.Route("/admin/users/{id}", func(r chi.Router) {
			r.Put("/role", a.handleUpdateRole)
			r.Post("/suspend", a.handleSuspend)
			r.Post("/unsuspend", a.handleUnsuspend)
		})
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tessera-identity",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Ping(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
