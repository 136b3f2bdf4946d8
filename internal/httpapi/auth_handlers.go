package httpapi

import (
	"net/http"
	"time"

	"tessera.social/internal/audit"
	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/obs"
)

// RefreshCookie is the name of the HttpOnly cookie holding the refresh token.
const RefreshCookie = "refresh_token"

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *auth.Identity `json:"user,omitempty"`
}

type userResponse struct {
	User auth.Identity `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pair, identity, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.RecordLogin(auth.Reason(err))
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
			"reason":    auth.Reason(err),
			"remote_ip": a.opts.TrustedProxies.ClientIP(r),
		})
		httpx.WriteError(w, r, err)
		return
	}
	obs.RecordLogin("success")
	ctx := auth.ContextWithIdentity(r.Context(), identity)
	_ = audit.LogEvent(ctx, audit.EventLogin, map[string]any{
		"remote_ip": a.opts.TrustedProxies.ClientIP(r),
	})

	a.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     pair.AccessToken,
		ExpiresAt: pair.AccessExpiresAt,
		User:      &identity,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(RefreshCookie); err == nil {
		token = c.Value
	}
	access, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     access.Token,
		ExpiresAt: access.ExpiresAt,
	})
}

// handleLogout clears the refresh cookie. Access tokens stay valid until
// they expire; there is no revocation list.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	_ = audit.LogEvent(r.Context(), audit.EventLogout, nil)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	identity, err := a.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRegister, map[string]any{
		"target_id": identity.ID,
	})
	httpx.WriteJSON(w, http.StatusCreated, userResponse{User: identity})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, err := currentIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	me, err := a.svc.Me(r.Context(), identity.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: me})
}

// handleValidateToken answers machine-to-machine validation queries. Token
// rejections are a normal answer and use 200; only unreadable requests and
// internal failures use error statuses.
func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req auth.ValidateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	v, err := a.svc.Validate(r.Context(), req.Token)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, auth.ValidateResponse{
			Valid:  false,
			Error:  err.Error(),
			Reason: auth.Reason(err),
		})
		return
	}
	resp := auth.ValidateResponse{Valid: true, User: &v.Identity}
	if !v.ExpiresAt.IsZero() {
		resp.ExpiresAt = &v.ExpiresAt
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.svc.RefreshTTL().Seconds()),
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
