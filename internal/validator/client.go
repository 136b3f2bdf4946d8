package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/obs"
)

// DefaultTimeout bounds one validation round-trip to the issuer.
const DefaultTimeout = 5 * time.Second

const validatePath = "/validate-token"

// IssuerClient asks the identity service whether an access token is valid.
type IssuerClient interface {
	ValidateToken(ctx context.Context, token string) (auth.Validation, error)
}

// RejectedError is returned when the issuer answered and said no. It
// unwraps to auth.ErrAuthenticationFailed and to the sentinel matching the
// issuer's reason code, so callers can tell an expired token from a
// suspended account.
type RejectedError struct {
	Reason  string
	Message string
	kind    error
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "token rejected: " + e.Reason
}

func (e *RejectedError) Unwrap() []error {
	return []error{auth.ErrAuthenticationFailed, e.kind}
}

func rejected(reason, message string) *RejectedError {
	kind := auth.ErrorForReason(reason)
	if !rejectionKind(kind) {
		kind = auth.ErrAuthenticationFailed
	}
	return &RejectedError{Reason: reason, Message: message, kind: kind}
}

// rejectionKind reports whether kind is an authentication outcome. Anything
// else coming back in a rejection is treated as a generic failure.
func rejectionKind(kind error) bool {
	for _, k := range []error{
		auth.ErrAuthenticationRequired,
		auth.ErrAuthenticationFailed,
		auth.ErrAccountNotVerified,
		auth.ErrAccountSuspended,
	} {
		if errors.Is(kind, k) {
			return true
		}
	}
	return false
}

// HTTPClient calls POST /validate-token on the issuer.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the transport, e.g. with an httptest server client.
// Its Timeout is overwritten by the configured bound.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			cp := *c
			cp.Timeout = h.http.Timeout
			h.http = &cp
		}
	}
}

// NewHTTPClient builds a client for the issuer at baseURL. A non-positive
// timeout selects DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("validator: issuer url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Timeout reports the per-call bound.
func (c *HTTPClient) Timeout() time.Duration { return c.http.Timeout }

// ValidateToken performs one bounded round-trip. Any failure to obtain a
// well-formed answer is reported as auth.ErrAuthServiceUnavailable.
func (c *HTTPClient) ValidateToken(ctx context.Context, token string) (auth.Validation, error) {
	start := time.Now()
	v, outcome, err := c.validate(ctx, token)
	obs.ObserveIssuerCall(outcome, time.Since(start))
	return v, err
}

func (c *HTTPClient) validate(ctx context.Context, token string) (auth.Validation, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	body, err := json.Marshal(auth.ValidateRequest{Token: token})
	if err != nil {
		return auth.Validation{}, "error", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(body))
	if err != nil {
		return auth.Validation{}, "error", unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rid := httpx.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(httpx.RequestIDHeader, rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return auth.Validation{}, "unavailable", unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return auth.Validation{}, "unavailable", unavailable(fmt.Errorf("issuer answered %d", resp.StatusCode))
	}
	var out auth.ValidateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, httpx.MaxBodyBytes)).Decode(&out); err != nil {
		return auth.Validation{}, "unavailable", unavailable(fmt.Errorf("decode issuer answer: %w", err))
	}
	if !out.Valid {
		return auth.Validation{}, "rejected", rejected(out.Reason, out.Error)
	}
	if out.User == nil || out.User.ID == "" {
		return auth.Validation{}, "unavailable", unavailable(errors.New("issuer accepted token without identity"))
	}
	v := auth.Validation{Identity: *out.User}
	if out.ExpiresAt != nil {
		v.ExpiresAt = *out.ExpiresAt
	}
	return v, "valid", nil
}

func unavailable(cause error) error {
	return fmt.Errorf("%w: %v", auth.ErrAuthServiceUnavailable, cause)
}
