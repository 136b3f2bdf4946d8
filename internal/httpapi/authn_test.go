package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"tessera.social/internal/auth"
)

func TestWithAuthAttachesIdentity(t *testing.T) {
	c := newTestAPI(t)
	hana := c.seed("hana@example.com", auth.RoleModerator)
	token := c.login("hana@example.com")
	api := New(c.svc, nil, Options{})

	var seen auth.Identity
	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		seen, err = currentIdentity(r)
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, hana.ID, seen.ID)
	require.Equal(t, auth.RoleModerator, seen.Role)
}

func TestWithAuthRejects(t *testing.T) {
	c := newTestAPI(t)
	c.seed("ivy@example.com", auth.RoleUser)
	token := c.login("ivy@example.com")
	api := New(c.svc, nil, Options{})

	handler := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
			require.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestCurrentIdentityWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := currentIdentity(req)
	require.ErrorIs(t, err, auth.ErrAuthenticationRequired)
}
