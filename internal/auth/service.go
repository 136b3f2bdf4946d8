package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tessera.social/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Service is the token issuer: it owns identity records, authenticates
// credentials, signs tokens and answers validation queries from other services.
type Service struct {
	store      Store
	signer     *TokenSigner
	hasher     Hasher
	now        func() time.Time
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        zerolog.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher overrides the password hasher, mostly to lower bcrypt cost in tests.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) error {
		s.log = l
		return nil
	}
}

// NewService constructs the issuer. secret is the HS256 key shared with nobody
// outside this process.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		hasher:     NewHasher(0),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	signer, err := NewTokenSigner(secret, svc.issuer, svc.now)
	if err != nil {
		return nil, err
	}
	svc.signer = signer
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Login authenticates credentials and issues an access/refresh pair.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, Identity{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Burn(password)
			return TokenPair{}, Identity{}, ErrInvalidCredentials
		}
		return TokenPair{}, Identity{}, err
	}
	if !s.hasher.Matches(user.PasswordHash, password) {
		return TokenPair{}, Identity{}, ErrInvalidCredentials
	}
	user, err = s.admit(ctx, user)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}

	access, accessExp, err := s.signer.Sign(user, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	refresh, refreshExp, err := s.signer.Sign(user, TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, user.Identity(), nil
}

// Refresh mints a new access token from a refresh token. The role comes from
// the current record, not from the refresh token's claims.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessToken, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AccessToken{}, ErrMissingToken
	}
	claims, err := s.signer.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return AccessToken{}, err
	}
	user, err := s.lookup(ctx, claims.UserID)
	if err != nil {
		return AccessToken{}, err
	}
	user, err = s.admit(ctx, user)
	if err != nil {
		return AccessToken{}, err
	}
	token, exp, err := s.signer.Sign(user, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: token, ExpiresAt: exp}, nil
}

// ValidateToken resolves an access token to the identity it currently stands
// for: signature and expiry, then record lookup, verification, deactivation
// and suspension (lifting an expired one on the way). Safe to call
// concurrently for the same token.
func (s *Service) ValidateToken(ctx context.Context, token string) (Identity, error) {
	v, err := s.Validate(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return v.Identity, nil
}

// Validate is ValidateToken plus the token's expiry.
func (s *Service) Validate(ctx context.Context, token string) (Validation, error) {
	claims, err := s.signer.Parse(token, TokenTypeAccess)
	if err != nil {
		return Validation{}, err
	}
	user, err := s.lookup(ctx, claims.UserID)
	if err != nil {
		return Validation{}, err
	}
	user, err = s.admit(ctx, user)
	if err != nil {
		return Validation{}, err
	}
	out := Validation{Identity: user.Identity()}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Me returns the summary of a single identity.
func (s *Service) Me(ctx context.Context, userID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	return user.Identity(), nil
}

// Register creates an unverified user-role identity.
func (s *Service) Register(ctx context.Context, email, password string) (Identity, error) {
	user, err := s.newUser(email, password, RoleUser, false)
	if err != nil {
		return Identity{}, err
	}
	if err := s.store.Create(ctx, user); err != nil {
		return Identity{}, err
	}
	return user.Identity(), nil
}

// Verify marks an identity as verified so it can authenticate.
func (s *Service) Verify(ctx context.Context, userID string) (Identity, error) {
	if err := s.store.SetVerified(ctx, userID, true); err != nil {
		return Identity{}, err
	}
	return s.Me(ctx, userID)
}

// EnsureAdmin creates or promotes the bootstrap administrator.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (Identity, error) {
	existing, err := s.store.FindByEmail(ctx, normalizeEmail(email))
	switch {
	case err == nil:
		if existing.Role != RoleAdmin {
			if err := s.store.UpdateRole(ctx, existing.ID, RoleAdmin); err != nil {
				return Identity{}, err
			}
		}
		if !existing.Verified {
			if err := s.store.SetVerified(ctx, existing.ID, true); err != nil {
				return Identity{}, err
			}
		}
		return s.Me(ctx, existing.ID)
	case errors.Is(err, ErrNotFound):
		user, err := s.newUser(email, password, RoleAdmin, true)
		if err != nil {
			return Identity{}, err
		}
		if err := s.store.Create(ctx, user); err != nil {
			return Identity{}, err
		}
		return user.Identity(), nil
	default:
		return Identity{}, err
	}
}

// UpdateRole changes the target's role. Every guard runs before the write.
func (s *Service) UpdateRole(ctx context.Context, actor Identity, targetID, rawRole string) (Identity, error) {
	role, err := ParseRole(rawRole)
	if err != nil {
		return Identity{}, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return Identity{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if actor.ID == targetID && actor.Role == RoleAdmin && role != RoleAdmin {
		return Identity{}, ErrSelfDemotion
	}
	if err := actor.Allowed(ActionManageRoles); err != nil {
		return Identity{}, err
	}
	target, err := s.store.Find(ctx, targetID)
	if err != nil {
		return Identity{}, err
	}
	if !CanModifyUser(actor.Role, target.Role) {
		return Identity{}, ErrForbidden
	}
	if target.Role != role {
		if err := s.store.UpdateRole(ctx, target.ID, role); err != nil {
			return Identity{}, err
		}
		s.log.Info().
			Str("actor_id", actor.ID).
			Str("target_id", target.ID).
			Str("from", target.Role.String()).
			Str("to", role.String()).
			Msg("role updated")
	}
	return s.Me(ctx, target.ID)
}

// Suspend blocks the target until now+duration, or permanently when duration is zero.
func (s *Service) Suspend(ctx context.Context, actor Identity, targetID string, duration time.Duration, reason string) (Identity, error) {
	if duration < 0 {
		return Identity{}, fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	target, err := s.guardModeration(ctx, actor, targetID)
	if err != nil {
		return Identity{}, err
	}
	now := s.now().UTC()
	susp := Suspension{
		Reason: strings.TrimSpace(reason),
		By:     actor.ID,
		At:     now,
	}
	if duration > 0 {
		until := now.Add(duration)
		susp.Until = &until
	}
	if err := s.store.Suspend(ctx, target.ID, susp); err != nil {
		return Identity{}, err
	}
	ev := s.log.Info().Str("actor_id", actor.ID).Str("target_id", target.ID)
	if susp.Until != nil {
		ev = ev.Time("until", *susp.Until)
	}
	ev.Msg("user suspended")
	return s.Me(ctx, target.ID)
}

// Unsuspend clears any suspension on the target.
func (s *Service) Unsuspend(ctx context.Context, actor Identity, targetID string) (Identity, error) {
	target, err := s.guardModeration(ctx, actor, targetID)
	if err != nil {
		return Identity{}, err
	}
	if err := s.store.ClearSuspension(ctx, target.ID); err != nil {
		return Identity{}, err
	}
	s.log.Info().Str("actor_id", actor.ID).Str("target_id", target.ID).Msg("user unsuspended")
	return s.Me(ctx, target.ID)
}

func (s *Service) guardModeration(ctx context.Context, actor Identity, targetID string) (*User, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := actor.Allowed(ActionSuspendUsers); err != nil {
		return nil, err
	}
	if actor.ID == targetID {
		return nil, ErrSelfSuspension
	}
	target, err := s.store.Find(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == RoleAdmin && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: only admins may act on admins", ErrForbidden)
	}
	if !CanModifyUser(actor.Role, target.Role) {
		return nil, ErrForbidden
	}
	return target, nil
}

func (s *Service) lookup(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}
	return user, nil
}

// admit applies the account-state gates shared by login, refresh and
// validation. An expired temporary suspension is lifted here; the store's
// conditional update makes the lift happen exactly once.
func (s *Service) admit(ctx context.Context, user *User) (*User, error) {
	if !user.Verified {
		return nil, ErrAccountNotVerified
	}
	if !user.Active {
		return nil, ErrAccountInactive
	}
	if user.Suspension == nil {
		return user, nil
	}
	now := s.now().UTC()
	if !user.SuspensionExpired(now) {
		return nil, suspendedError(user.Suspension)
	}
	lifted, err := s.store.LiftExpiredSuspension(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	if lifted {
		obs.RecordSuspensionLift()
		s.log.Info().Str("user_id", user.ID).Msg("expired suspension lifted")
	}
	fresh, err := s.store.Find(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Suspension != nil {
		return nil, suspendedError(fresh.Suspension)
	}
	return fresh, nil
}

func (s *Service) newUser(email, password string, role Role, verified bool) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	return &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Verified:     verified,
		Active:       true,
	}, nil
}

func suspendedError(susp *Suspension) error {
	if susp.Until == nil {
		return fmt.Errorf("%w: permanently", ErrAccountSuspended)
	}
	return fmt.Errorf("%w: until %s", ErrAccountSuspended, susp.Until.UTC().Format(time.RFC3339))
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
