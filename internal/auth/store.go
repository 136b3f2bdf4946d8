package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the issuer.
// Implementations return ErrNotFound for unknown ids or emails and
// ErrConflict for duplicate emails.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	SetVerified(ctx context.Context, id string, verified bool) error
	Suspend(ctx context.Context, id string, s Suspension) error
	ClearSuspension(ctx context.Context, id string) error
	// LiftExpiredSuspension clears a temporary suspension whose Until is not
	// after now. It reports true only for the call that performed the change.
	LiftExpiredSuspension(ctx context.Context, id string, now time.Time) (bool, error)
	Ping(ctx context.Context) error
}
