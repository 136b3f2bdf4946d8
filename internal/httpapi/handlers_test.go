package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tessera.social/internal/auth"
	"tessera.social/internal/obs"
)

const testPassword = "correct horse battery"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	svc     *auth.Service
	store   *auth.MemoryStore
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	restore := obs.SetLogger(zerolog.Nop())
	t.Cleanup(restore)

	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, "httpapi-test-secret-0123",
		auth.WithHasher(auth.NewHasher(bcrypt.MinCost)))
	require.NoError(t, err)

	api := New(svc, nil, Options{Version: "test", RatePerSecond: 1000, RateBurst: 1000})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
		store:   store,
	}
}

// seed creates a verified identity with role.
func (c *apiClient) seed(email string, role auth.Role) auth.Identity {
	c.t.Helper()
	ctx := context.Background()
	id, err := c.svc.Register(ctx, email, testPassword)
	require.NoError(c.t, err)
	_, err = c.svc.Verify(ctx, id.ID)
	require.NoError(c.t, err)
	if role != auth.RoleUser {
		require.NoError(c.t, c.store.UpdateRole(ctx, id.ID, role))
	}
	got, err := c.svc.Me(ctx, id.ID)
	require.NoError(c.t, err)
	return got
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

// login returns the access token for email.
func (c *apiClient) login(email string) string {
	c.t.Helper()
	resp := c.post("/login", map[string]string{"email": email, "password": testPassword}, nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	payload := decode[tokenResponse](c.t, resp)
	require.NotEmpty(c.t, payload.Token)
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	body := decode[map[string]any](t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "test", body["version"])

	resp = c.get("/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = c.get("/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = c.get("/nowhere", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotEmpty(t, decode[errorResponse](t, resp).RequestID)
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/login", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}
