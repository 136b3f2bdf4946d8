// Package validator lets a service trust access tokens minted by the identity
// service without sharing its secret: tokens are checked by asking the issuer
// and successful answers are cached for a short window.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// AccessTokenParam is accepted by Handshake for clients that cannot set headers.
	AccessTokenParam = "access_token"
)

// Validator authenticates inbound requests against the issuer.
type Validator struct {
	cache  *Cache
	client IssuerClient
	group  singleflight.Group
	log    zerolog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for issuer failures.
func WithLogger(l zerolog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// New builds a Validator. The cache is injected so callers and tests control
// its lifetime and clock.
func New(client IssuerClient, cache *Cache, opts ...Option) (*Validator, error) {
	if client == nil {
		return nil, errors.New("validator: issuer client is required")
	}
	if cache == nil {
		cache = NewCache(0, 0)
	}
	v := &Validator{cache: cache, client: client, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Cache exposes the underlying cache.
func (v *Validator) Cache() *Cache { return v.cache }

// Authenticate resolves token to an identity. A live cache entry answers
// without a network call. Concurrent misses for one token share a single
// issuer call; each caller still stops waiting when its own ctx ends.
func (v *Validator) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}
	if identity, ok := v.cache.Get(token); ok {
		return identity, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(token, func() (any, error) {
		res, err := v.client.ValidateToken(shared, token)
		var rej *RejectedError
		switch {
		case err == nil:
			v.cache.Set(token, res.Identity, res.ExpiresAt)
		case errors.As(err, &rej):
			v.cache.Delete(token)
		default:
			v.log.Warn().Err(err).Msg("issuer validation failed")
		}
		return res.Identity, err
	})

	select {
	case <-ctx.Done():
		return auth.Identity{}, fmt.Errorf("%w: %v", auth.ErrAuthServiceUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return auth.Identity{}, res.Err
		}
		return res.Val.(auth.Identity), nil
	}
}

// Middleware authenticates every request from its Authorization header and
// attaches the identity to the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearer(r.Header.Get(authHeader))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		ctx, err := v.attach(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handshake authenticates the opening request of a long-lived connection.
// The identity is established once and is not re-checked for the lifetime
// of the connection. When no Authorization header is present the
// access_token query parameter is used instead.
func (v *Validator) Handshake(r *http.Request) (context.Context, auth.Identity, error) {
	header := r.Header.Get(authHeader)
	var (
		token string
		err   error
	)
	if strings.TrimSpace(header) != "" {
		token, err = ExtractBearer(header)
	} else {
		token = strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
		if token == "" {
			err = auth.ErrMissingToken
		}
	}
	if err != nil {
		return r.Context(), auth.Identity{}, err
	}
	ctx, err := v.attach(r.Context(), token)
	if err != nil {
		return r.Context(), auth.Identity{}, err
	}
	identity, _ := auth.IdentityFromContext(ctx)
	return ctx, identity, nil
}

func (v *Validator) attach(ctx context.Context, token string) (context.Context, error) {
	identity, err := v.Authenticate(ctx, token)
	if err != nil {
		return ctx, err
	}
	return auth.ContextWithIdentity(ctx, identity), nil
}

// RequireAction rejects requests whose identity ranks below the minimum role
// the permission matrix assigns to action.
func RequireAction(action auth.Action) func(http.Handler) http.Handler {
	return RequireRole(auth.RequiredRole(action))
}

// RequireRole rejects requests whose identity ranks below role. It runs
// after Middleware and performs no network call.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := auth.IdentityFromContext(r.Context())
			if err := identity.Require(role); err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractBearer returns the token of a "Bearer <token>" header value.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", fmt.Errorf("%w: invalid authorization scheme", auth.ErrAuthenticationRequired)
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}
