package auth

import "time"

// User is the authoritative identity record. Only the issuer reads or writes it.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Verified     bool
	Active       bool
	Suspension   *Suspension
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Suspension blocks authentication until lifted. A nil Until is permanent.
type Suspension struct {
	Until  *time.Time
	Reason string
	By     string
	At     time.Time
}

// SuspensionState is the externally observable phase of a user's suspension.
type SuspensionState int

const (
	StateActive SuspensionState = iota
	StateSuspendedTemporary
	StateSuspendedPermanent
)

func (s SuspensionState) String() string {
	switch s {
	case StateSuspendedTemporary:
		return "suspended_temporary"
	case StateSuspendedPermanent:
		return "suspended_permanent"
	default:
		return "active"
	}
}

// State reports the stored suspension phase, without applying expiry.
func (u *User) State() SuspensionState {
	switch {
	case u == nil || u.Suspension == nil:
		return StateActive
	case u.Suspension.Until == nil:
		return StateSuspendedPermanent
	default:
		return StateSuspendedTemporary
	}
}

// SuspensionExpired reports whether a temporary suspension has run out at now.
func (u *User) SuspensionExpired(now time.Time) bool {
	return u.State() == StateSuspendedTemporary && now.After(*u.Suspension.Until)
}

// Identity is the projection of a User handed to other services.
type Identity struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	Verified       bool       `json:"verified"`
	Suspended      bool       `json:"suspended"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}

// Identity projects the record into its shareable summary.
func (u *User) Identity() Identity {
	id := Identity{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.Verified,
	}
	if u.Suspension != nil {
		id.Suspended = true
		if u.Suspension.Until != nil {
			until := u.Suspension.Until.UTC()
			id.SuspendedUntil = &until
		}
	}
	return id
}

// TokenPair carries freshly minted credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccessToken is the result of a refresh.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// ValidateRequest is the body of a validation query sent to the issuer.
type ValidateRequest struct {
	Token string `json:"token"`
}

// ValidateResponse is the issuer's answer. Rejections carry Error and Reason
// and are still delivered with status 200.
type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	User      *Identity  `json:"user,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Validation is an accepted access token: who it stands for and when it
// stops being accepted. A zero ExpiresAt means the expiry is unknown.
type Validation struct {
	Identity  Identity
	ExpiresAt time.Time
}
