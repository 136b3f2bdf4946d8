package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// Hasher hashes and checks credentials with a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher; non-positive cost selects bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return Hasher{cost: cost}
}

// Hash returns the salted bcrypt hash of password.
func (h Hasher) Hash(password string) (string, error) {
	if err := checkPasswordPolicy(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Matches compares password with the stored hash in constant time.
func (h Hasher) Matches(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Burn spends roughly the same time as Matches against a throwaway hash so
// callers can answer unknown emails as slowly as wrong passwords.
func (h Hasher) Burn(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tessera-timing-equalizer"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func checkPasswordPolicy(password string) error {
	if len(password) == 0 {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordLength)
	}
	return nil
}
