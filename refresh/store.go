package refresh

import (
	"context"
	"time"
)

// Store persists refresh records. Implementations must make Rotate and the
// revoke operations atomic with respect to concurrent callers.
type Store interface {
	// Create persists a new Active record, typically the first of a family.
	Create(ctx context.Context, rec Record) error

	// Rotate moves record id from Active to Rotated and inserts next as the
	// family's new Active record, in one atomic step. The returned record is
	// the one that was looked up, as it was before the call.
	//
	// Failure order: ErrNotFound, ErrSecretMismatch (presented hash differs),
	// ErrNotActive (already Rotated or Revoked; the record is returned so the
	// caller can revoke its family), ErrExpired (Active but past expiry at now).
	Rotate(ctx context.Context, id string, presented [32]byte, next Successor, now time.Time) (Record, error)

	// RevokeFamily marks every record of the family Revoked and returns how
	// many records changed state.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeSubject revokes every family of a subject.
	RevokeSubject(ctx context.Context, subject string) (int, error)
}
