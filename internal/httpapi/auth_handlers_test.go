package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tessera.social/internal/auth"
)

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == RefreshCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", RefreshCookie)
	return nil
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	c := newTestAPI(t)
	alice := c.seed("alice@example.com", auth.RoleUser)

	resp := c.post("/login", map[string]string{"email": "alice@example.com", "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := refreshCookie(t, resp)
	login := decode[tokenResponse](t, resp)
	require.NotEmpty(t, login.Token)
	require.Equal(t, alice.ID, login.User.ID)
	require.NotEqual(t, login.Token, cookie.Value)

	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, "/", cookie.Path)
	require.Equal(t, int(c.svc.RefreshTTL().Seconds()), cookie.MaxAge)

	resp = c.get("/me", bearerHeader(login.Token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[userResponse](t, resp)
	require.Equal(t, "alice@example.com", me.User.Email)

	resp = c.post("/refresh", nil, map[string]string{"Cookie": RefreshCookie + "=" + cookie.Value})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decode[tokenResponse](t, resp)
	require.NotEmpty(t, refreshed.Token)
	require.Nil(t, refreshed.User)

	resp = c.post("/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := refreshCookie(t, resp)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)
	resp.Body.Close()
}

func TestLoginErrors(t *testing.T) {
	c := newTestAPI(t)
	c.seed("bob@example.com", auth.RoleUser)

	resp := c.post("/login", map[string]string{"email": "bob@example.com"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = c.post("/login", map[string]string{"email": "bob@example.com", "password": "wrong password"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	wrong := decode[errorResponse](t, resp)

	resp = c.post("/login", map[string]string{"email": "ghost@example.com", "password": testPassword}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	unknown := decode[errorResponse](t, resp)

	require.Equal(t, auth.ReasonInvalidCredentials, wrong.Code)
	require.Equal(t, wrong.Code, unknown.Code)
	require.Equal(t, wrong.Error, unknown.Error)

	_, err := c.svc.Register(context.Background(), "fresh@example.com", testPassword)
	require.NoError(t, err)
	resp = c.post("/login", map[string]string{"email": "fresh@example.com", "password": testPassword}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, auth.ReasonAccountNotVerified, decode[errorResponse](t, resp).Code)
}

func TestRefreshRequiresCookie(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, auth.ReasonAuthenticationRequired, decode[errorResponse](t, resp).Code)

	resp = c.post("/refresh", nil, map[string]string{"Cookie": RefreshCookie + "=garbage"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, auth.ReasonInvalidToken, decode[errorResponse](t, resp).Code)
}

func TestMeRequiresBearer(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	resp.Body.Close()

	resp = c.get("/me", bearerHeader("not-a-token"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestValidateTokenAlwaysAnswers200(t *testing.T) {
	c := newTestAPI(t)
	carol := c.seed("carol@example.com", auth.RoleModerator)
	token := c.login("carol@example.com")

	resp := c.post("/validate-token", auth.ValidateRequest{Token: token}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok := decode[auth.ValidateResponse](t, resp)
	require.True(t, ok.Valid)
	require.Equal(t, carol.ID, ok.User.ID)
	require.Equal(t, auth.RoleModerator, ok.User.Role)
	require.NotNil(t, ok.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(c.svc.AccessTTL()), *ok.ExpiresAt, 5*time.Second)

	resp = c.post("/validate-token", auth.ValidateRequest{Token: "forged"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bad := decode[auth.ValidateResponse](t, resp)
	require.False(t, bad.Valid)
	require.Equal(t, auth.ReasonInvalidToken, bad.Reason)
	require.NotEmpty(t, bad.Error)
	require.Nil(t, bad.User)
	require.Nil(t, bad.ExpiresAt)

	resp = c.post("/validate-token", "not an object", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRegister(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/register", map[string]string{"email": "new@example.com", "password": testPassword}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[userResponse](t, resp)
	require.Equal(t, auth.RoleUser, created.User.Role)
	require.False(t, created.User.Verified)

	resp = c.post("/register", map[string]string{"email": "NEW@example.com", "password": testPassword}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = c.post("/register", map[string]string{"email": "x@example.com", "password": "short"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginIsRateLimited(t *testing.T) {
	c := newTestAPI(t)
	api := New(c.svc, nil, Options{RatePerSecond: 0.001, RateBurst: 2})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	limited := &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		// rotating X-Forwarded-For from an untrusted peer shares one bucket
		xff := map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1)}
		resp := limited.post("/login", map[string]string{"email": "a@example.com", "password": "whatever1"}, xff)
		codes = append(codes, resp.StatusCode)
		resp.Body.Close()
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	// validation is not throttled
	resp := limited.post("/validate-token", map[string]string{"token": "x"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
