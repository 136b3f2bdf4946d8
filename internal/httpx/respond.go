// Package httpx holds the HTTP plumbing shared by the identity service and
// its consumers: JSON helpers, error mapping and middleware.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tessera.social/internal/auth"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = "5"

// errorStatus maps error kinds to response codes. First match wins.
var errorStatus = []struct {
	err  error
	code int
}{
	{auth.ErrAuthServiceUnavailable, http.StatusServiceUnavailable},
	{auth.ErrAuthenticationRequired, http.StatusUnauthorized},
	{auth.ErrAuthenticationFailed, http.StatusUnauthorized},
	{auth.ErrAccountNotVerified, http.StatusUnauthorized},
	{auth.ErrAccountSuspended, http.StatusUnauthorized},
	{auth.ErrAuthorizationDenied, http.StatusForbidden},
	{auth.ErrValidation, http.StatusBadRequest},
	{auth.ErrSelfActionDenied, http.StatusBadRequest},
	{auth.ErrNotFound, http.StatusNotFound},
	{auth.ErrConflict, http.StatusConflict},
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and writes {error, code, request_id}.
// Internal errors are logged and replaced by a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		LoggerFrom(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	switch code {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case http.StatusForbidden:
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	writeBody(w, r, code, msg, auth.Reason(err))
}

// WriteMessage writes an error response that does not originate from an error value.
func WriteMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeBody(w, r, code, msg, strings.ReplaceAll(strings.ToLower(http.StatusText(code)), " ", "_"))
}

func writeBody(w http.ResponseWriter, r *http.Request, code int, msg, reason string) {
	WriteJSON(w, code, ErrorBody{
		Error:     msg,
		Code:      reason,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// ErrEmptyBody is returned by DecodeJSON when the request carries no body.
var ErrEmptyBody = fmt.Errorf("%w: request body is required", auth.ErrValidation)

// DecodeJSON reads exactly one JSON object from the body. Failures wrap
// auth.ErrValidation so WriteError answers 400.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return invalid("malformed JSON body: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalid("unexpected data after JSON body")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", auth.ErrValidation, msg)
}
