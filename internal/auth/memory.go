package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"tessera.social/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps identity records in process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = cloneUser(u)
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *MemoryStore) UpdateRole(_ context.Context, id string, role Role) error {
	return s.mutate(id, func(u *User) { u.Role = role })
}

func (s *MemoryStore) SetVerified(_ context.Context, id string, verified bool) error {
	return s.mutate(id, func(u *User) { u.Verified = verified })
}

func (s *MemoryStore) Suspend(_ context.Context, id string, susp Suspension) error {
	return s.mutate(id, func(u *User) { u.Suspension = cloneSuspension(&susp) })
}

func (s *MemoryStore) ClearSuspension(_ context.Context, id string) error {
	return s.mutate(id, func(u *User) { u.Suspension = nil })
}

func (s *MemoryStore) LiftExpiredSuspension(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if u.Suspension == nil || u.Suspension.Until == nil || u.Suspension.Until.After(now) {
		return false, nil
	}
	u.Suspension = nil
	u.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) mutate(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	c.Suspension = cloneSuspension(u.Suspension)
	return &c
}

func cloneSuspension(s *Suspension) *Suspension {
	if s == nil {
		return nil
	}
	c := *s
	if s.Until != nil {
		until := *s.Until
		c.Until = &until
	}
	return &c
}
