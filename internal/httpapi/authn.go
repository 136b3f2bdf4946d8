package httpapi

import (
	"net/http"

	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/validator"
)

// withAuth authenticates bearer tokens against the local service. The
// issuer owns the records, so it needs no cache or network hop.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := validator.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		identity, err := a.svc.ValidateToken(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// currentIdentity returns the identity attached by withAuth.
func currentIdentity(r *http.Request) (auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return auth.Identity{}, auth.ErrAuthenticationRequired
	}
	return identity, nil
}
