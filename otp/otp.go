// Package otp stores the one outstanding password-reset passcode of each
// account.
//
// Saving a passcode replaces any previous one for the same account. Consume is
// single use: a matching code deletes the record, an expired record is deleted
// when it is looked at, and too many wrong guesses delete it as well.
package otp

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/careermate/authcore/otp")

var (
	ErrNotFound         = errors.New("otp: no outstanding passcode")
	ErrMismatch         = errors.New("otp: code mismatch")
	ErrExpired          = errors.New("otp: passcode expired")
	ErrAttemptsExceeded = errors.New("otp: attempts exceeded")
	ErrUnavailable      = errors.New("otp: store unavailable")
)

// Record is an outstanding passcode. Only the code's hash is stored.
type Record struct {
	AccountID string
	CodeHash  [32]byte
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  uint16
}

// Expired reports whether now is past the expiry.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HashCode returns the stored form of a code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// Store persists passcodes keyed by account id.
type Store interface {
	// Save stores rec, superseding any previous passcode of the account.
	Save(ctx context.Context, rec Record) error

	// Consume checks presented against the outstanding passcode at now.
	// It fails with ErrNotFound, ErrExpired (record deleted), ErrMismatch
	// (attempt counted) or ErrAttemptsExceeded (record deleted). On success the
	// record is deleted and returned.
	Consume(ctx context.Context, accountID string, presented [32]byte, now time.Time, maxAttempts int) (Record, error)

	// Delete removes the passcode if any. It is not an error when there is
	// none.
	Delete(ctx context.Context, accountID string) error
}
