// Package account holds the account view the auth core reads from its
// collaborators, and the interfaces through which it reads and updates it.
package account

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Status is the lifecycle state of an account. Only StatusActive may log in.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusLocked   Status = "LOCKED"
	StatusBanned   Status = "BANNED"
	StatusPending  Status = "PENDING"
)

// CanLogin reports whether the status permits authentication.
func (s Status) CanLogin() bool {
	return s == StatusActive
}

// Account is the subset of a user record the core needs.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Status       Status
	Roles        []string
}

// Scope joins the account roles with single spaces, skipping blanks and
// duplicates while keeping their order.
func (a Account) Scope() string {
	seen := make(map[string]struct{}, len(a.Roles))
	out := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return strings.Join(out, " ")
}

// NormalizeEmail lowercases and trims an address for lookups and limiter keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store is implemented by the account owner.
//
// FindByEmail returns (nil, nil) when no account exists.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, email, hash string) error
}

// Notifier delivers out-of-band messages such as reset passcodes.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ErrNotFound is returned by MemoryStore.UpdatePasswordHash for an unknown
// email.
var ErrNotFound = errors.New("account: not found")

// MemoryStore is a Store backed by a map, keyed by normalized email.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore returns a store holding accts.
func NewMemoryStore(accts ...Account) *MemoryStore {
	s := &MemoryStore{accounts: make(map[string]Account, len(accts))}
	for _, a := range accts {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a Account) {
	a.Roles = append([]string(nil), a.Roles...)
	s.mu.Lock()
	s.accounts[NormalizeEmail(a.Email)] = a
	s.mu.Unlock()
}

// FindByEmail returns a copy of the stored account.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	a, ok := s.accounts[NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	a.Roles = append([]string(nil), a.Roles...)
	return &a, nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *MemoryStore) UpdatePasswordHash(_ context.Context, email, hash string) error {
	key := NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[key]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	s.accounts[key] = a
	return nil
}
