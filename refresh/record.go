package refresh

import (
	"errors"
	"time"
)

// State is the lifecycle state of a refresh record.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateRotated, StateRevoked:
		return true
	}
	return false
}

var (
	ErrNotFound       = errors.New("refresh: record not found")
	ErrSecretMismatch = errors.New("refresh: secret mismatch")
	ErrExpired        = errors.New("refresh: record expired")
	ErrUnavailable    = errors.New("refresh: store unavailable")
	ErrCorrupt        = errors.New("refresh: corrupt record")

	// ErrNotActive is returned by Rotate for a Rotated or Revoked record: the
	// token has been presented before.
	ErrNotActive = errors.New("refresh: record is not active")
)

// Record is one persisted refresh token.
type Record struct {
	ID         string
	Subject    string
	FamilyID   string
	Scope      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	State      State
	SecretHash [32]byte
	ReplacedBy string
}

// Expired reports whether now is past the record's expiry.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Successor describes the record minted by a successful rotation. Subject,
// family and scope are inherited from the rotated record.
type Successor struct {
	ID         string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Next builds the successor record of r.
func (r Record) Next(s Successor) Record {
	return Record{
		ID:         s.ID,
		Subject:    r.Subject,
		FamilyID:   r.FamilyID,
		Scope:      r.Scope,
		IssuedAt:   s.IssuedAt,
		ExpiresAt:  s.ExpiresAt,
		State:      StateActive,
		SecretHash: s.SecretHash,
	}
}
