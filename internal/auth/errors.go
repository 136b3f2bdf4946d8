package auth

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them,
// so callers can branch with errors.Is instead of matching messages.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrAccountSuspended       = errors.New("account suspended")
	ErrAuthorizationDenied    = errors.New("authorization denied")
	ErrAuthServiceUnavailable = errors.New("auth service unavailable")
	ErrValidation             = errors.New("invalid input")
	ErrSelfActionDenied       = errors.New("self action denied")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("resource conflict")
)

var (
	ErrMissingToken       = fmt.Errorf("%w: missing token", ErrAuthenticationRequired)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthenticationFailed)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", ErrAuthenticationFailed)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrAuthenticationFailed)
	ErrUnknownUser        = fmt.Errorf("%w: unknown user", ErrAuthenticationFailed)
	ErrAccountInactive    = fmt.Errorf("%w: account deactivated", ErrAuthenticationFailed)
	ErrForbidden          = fmt.Errorf("%w: insufficient rights", ErrAuthorizationDenied)
	ErrInvalidRole        = fmt.Errorf("%w: unknown role", ErrValidation)
	ErrSelfDemotion       = fmt.Errorf("%w: admins cannot demote themselves", ErrSelfActionDenied)
	ErrSelfSuspension     = fmt.Errorf("%w: cannot suspend yourself", ErrSelfActionDenied)
)

// Wire codes used on the validation protocol and in HTTP error bodies.
const (
	ReasonAuthenticationRequired = "authentication_required"
	ReasonAuthenticationFailed   = "authentication_failed"
	ReasonInvalidCredentials     = "invalid_credentials"
	ReasonInvalidToken           = "invalid_token"
	ReasonTokenExpired           = "token_expired"
	ReasonUnknownUser            = "user_not_found"
	ReasonAccountInactive        = "account_inactive"
	ReasonAccountNotVerified     = "account_not_verified"
	ReasonAccountSuspended       = "account_suspended"
	ReasonAuthorizationDenied    = "forbidden"
	ReasonServiceUnavailable     = "auth_service_unavailable"
	ReasonValidation             = "validation_error"
	ReasonSelfActionDenied       = "self_action_denied"
	ReasonNotFound               = "not_found"
	ReasonConflict               = "conflict"
	ReasonInternal               = "internal"
)

// Most specific first; Reason returns the first match.
var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, ReasonInvalidCredentials},
	{ErrTokenExpired, ReasonTokenExpired},
	{ErrInvalidToken, ReasonInvalidToken},
	{ErrUnknownUser, ReasonUnknownUser},
	{ErrAccountInactive, ReasonAccountInactive},
	{ErrAccountNotVerified, ReasonAccountNotVerified},
	{ErrAccountSuspended, ReasonAccountSuspended},
	{ErrAuthenticationRequired, ReasonAuthenticationRequired},
	{ErrAuthenticationFailed, ReasonAuthenticationFailed},
	{ErrAuthorizationDenied, ReasonAuthorizationDenied},
	{ErrAuthServiceUnavailable, ReasonServiceUnavailable},
	{ErrValidation, ReasonValidation},
	{ErrSelfActionDenied, ReasonSelfActionDenied},
	{ErrNotFound, ReasonNotFound},
	{ErrConflict, ReasonConflict},
}

// Reason returns the stable wire code for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ReasonInternal
}

// ErrorForReason maps a wire code received from the issuer back to an error.
// Unknown codes degrade to ErrAuthenticationFailed.
func ErrorForReason(code string) error {
	for _, r := range reasons {
		if r.code == code {
			return r.err
		}
	}
	return ErrAuthenticationFailed
}
