package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tessera.social/internal/auth"
	"tessera.social/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(NewRateLimiter(1, 1).Middleware(base))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body ErrorBody
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body.Error == "" || body.RequestID == "" {
		t.Fatalf("expected error and request_id, got %+v", body)
	}
	if body.Code != "too_many_requests" {
		t.Fatalf("unexpected code %q", body.Code)
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected a separate bucket per ip, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimiter(0.001, 1).Middleware(base)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("call %d: expected %d, got %d", i, want[i], codes[i])
		}
	}
}

func TestRateLimitHonorsTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimiter(0.001, 1, WithTrustedProxies(proxies)).Middleware(base)

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("198.51.100.1"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send("198.51.100.2"); code != http.StatusOK {
		t.Fatalf("expected a separate bucket per forwarded client, got %d", code)
	}
	// a client-supplied prefix does not move the bucket
	if code := send("192.0.2.77, 198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for the same forwarded client, got %d", code)
	}
}

func TestTrustedProxiesClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1", " "})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	if len(proxies) != 2 {
		t.Fatalf("expected 2 prefixes, got %d", len(proxies))
	}

	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer", "203.0.113.5:1000", "198.51.100.1", "203.0.113.5"},
		{"trusted peer without header", "10.0.0.1:1000", "", "10.0.0.1"},
		{"trusted peer", "10.0.0.1:1000", "198.51.100.1", "198.51.100.1"},
		{"rightmost untrusted hop", "10.0.0.1:1000", "1.1.1.1, 198.51.100.1, 192.168.1.1", "198.51.100.1"},
		{"all hops trusted", "10.0.0.1:1000", "10.2.2.2, 192.168.1.1", "10.2.2.2"},
		{"remote without port", "10.0.0.1", "198.51.100.7", "198.51.100.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := proxies.ClientIP(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected the peer address without trusted proxies, got %q", got)
	}

	if _, err := ParseTrustedProxies([]string{"not-a-cidr"}); err == nil {
		t.Fatalf("expected an error for a malformed proxy")
	}
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLogger(zerolog.New(&buf))
	defer restore()

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set(RequestIDHeader, "rid-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get(RequestIDHeader) != "rid-42" {
		t.Fatalf("expected inbound request id echoed, got %q", rr.Header().Get(RequestIDHeader))
	}
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v (%q)", err, line)
	}
	for _, key := range []string{"level", "message", "request_id", "method", "path", "status", "duration"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["message"] != "request_complete" || entry["request_id"] != "rid-42" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestRecoverAnswers500(t *testing.T) {
	restore := obs.SetLogger(zerolog.Nop())
	defer restore()

	handler := RequestID(Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestWriteErrorMapsKinds(t *testing.T) {
	restore := obs.SetLogger(zerolog.Nop())
	defer restore()

	cases := []struct {
		err    error
		status int
		code   string
		header string
	}{
		{auth.ErrMissingToken, http.StatusUnauthorized, auth.ReasonAuthenticationRequired, "WWW-Authenticate"},
		{auth.ErrTokenExpired, http.StatusUnauthorized, auth.ReasonTokenExpired, "WWW-Authenticate"},
		{fmt.Errorf("%w: until tomorrow", auth.ErrAccountSuspended), http.StatusUnauthorized, auth.ReasonAccountSuspended, ""},
		{auth.ErrForbidden, http.StatusForbidden, auth.ReasonAuthorizationDenied, ""},
		{auth.ErrSelfDemotion, http.StatusBadRequest, auth.ReasonSelfActionDenied, ""},
		{auth.ErrInvalidRole, http.StatusBadRequest, auth.ReasonValidation, ""},
		{auth.ErrNotFound, http.StatusNotFound, auth.ReasonNotFound, ""},
		{auth.ErrConflict, http.StatusConflict, auth.ReasonConflict, ""},
		{auth.ErrAuthServiceUnavailable, http.StatusServiceUnavailable, auth.ReasonServiceUnavailable, "Retry-After"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, auth.ReasonInternal, ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		WriteError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		var body ErrorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Code != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, body.Code)
		}
		if tc.header != "" && rr.Header().Get(tc.header) == "" {
			t.Fatalf("%v: expected %s header", tc.err, tc.header)
		}
		if tc.status == http.StatusInternalServerError && body.Error != "internal error" {
			t.Fatalf("internal errors must not leak, got %q", body.Error)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}
	cases := map[string]bool{
		`{"email":"a@b.c"}`:          true,
		``:                           false,
		`{"email":"a@b.c","x":1}`:    false,
		`{"email":"a"}{"email":"b"}`: false,
		`not json`:                   false,
	}
	for body, ok := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(), req, &dst)
		if ok && err != nil {
			t.Fatalf("%q: unexpected error %v", body, err)
		}
		if !ok && StatusFor(err) != http.StatusBadRequest {
			t.Fatalf("%q: expected validation error, got %v", body, err)
		}
		if body == "" && !errors.Is(err, ErrEmptyBody) {
			t.Fatalf("empty body: expected ErrEmptyBody, got %v", err)
		}
	}
}
