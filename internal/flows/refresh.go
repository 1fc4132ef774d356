package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/careermate/authcore/refresh"
)

// RefreshFailureKind classifies Refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureNotFound
	RefreshFailureMismatch
	RefreshFailureReuse
	RefreshFailureExpired
	RefreshFailureStore
	RefreshFailureIssue
)

// RefreshResult carries the rotated pair or the failure. Previous is the
// presented record whenever the store found it.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	Previous refresh.Record
	Issued   Issued

	// Revoked and RevokeErr report the family revocation of the reuse branch.
	Revoked   int
	RevokeErr error
}

// RunRefresh rotates the presented refresh token. Presenting a token that is
// no longer active revokes its whole family.
func RunRefresh(ctx context.Context, token string, d TokenDeps) RefreshResult {
	id, secret, err := refresh.ParseToken(token)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: err}
	}

	now := d.Now()
	nextID, err := d.NewID()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: fmt.Errorf("mint refresh id: %w", err)}
	}
	nextSecret, err := refresh.NewSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err}
	}
	next := refresh.Successor{
		ID:         nextID,
		SecretHash: nextSecret.Hash(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(d.RefreshTTL),
	}

	prev, err := d.Refresh.Rotate(ctx, id, secret.Hash(), next, now)
	switch {
	case err == nil:
	case errors.Is(err, refresh.ErrNotFound):
		return RefreshResult{Failure: RefreshFailureNotFound, Err: err}
	case errors.Is(err, refresh.ErrSecretMismatch):
		return RefreshResult{Failure: RefreshFailureMismatch, Err: err, Previous: prev}
	case errors.Is(err, refresh.ErrNotActive):
		n, revokeErr := d.Refresh.RevokeFamily(ctx, prev.FamilyID)
		return RefreshResult{Failure: RefreshFailureReuse, Err: err, Previous: prev, Revoked: n, RevokeErr: revokeErr}
	case errors.Is(err, refresh.ErrExpired):
		return RefreshResult{Failure: RefreshFailureExpired, Err: err, Previous: prev}
	default:
		return RefreshResult{Failure: RefreshFailureStore, Err: err}
	}

	// The successor is already active at this point; if signing fails the
	// caller has to log in again.
	access, claims, err := issueAccess(ctx, d, prev.Subject, prev.Scope, prev.FamilyID, now)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, Previous: prev}
	}

	return RefreshResult{
		Previous: prev,
		Issued: Issued{
			AccessToken:      access,
			RefreshToken:     refresh.EncodeToken(nextID, nextSecret),
			Access:           claims,
			RefreshID:        nextID,
			RefreshExpiresAt: next.ExpiresAt,
		},
	}
}
