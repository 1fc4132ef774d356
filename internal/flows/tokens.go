package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/refresh"
)

// Issued is the token pair minted by a login or a rotation.
type Issued struct {
	AccessToken      string
	RefreshToken     string
	Access           jwt.Claims
	RefreshID        string
	RefreshExpiresAt time.Time
}

func issueAccess(ctx context.Context, d TokenDeps, subject, scope, familyID string, now time.Time) (string, jwt.Claims, error) {
	jti, err := d.NewID()
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("mint jti: %w", err)
	}
	claims := jwt.Claims{
		ID:        jti,
		Subject:   subject,
		Scope:     scope,
		FamilyID:  familyID,
		Type:      jwt.TypeAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(d.AccessTTL),
	}
	token, err := d.Codec.Issue(ctx, claims)
	if err != nil {
		return "", jwt.Claims{}, err
	}
	return token, claims, nil
}

// storeError marks failures of the refresh store so callers can tell them
// from signing failures.
type storeError struct{ err error }

func (e storeError) Error() string { return e.err.Error() }
func (e storeError) Unwrap() error { return e.err }

// startFamily creates the first record of a new family and its access token.
func startFamily(ctx context.Context, d TokenDeps, subject, scope string) (Issued, error) {
	now := d.Now()

	familyID, err := d.NewID()
	if err != nil {
		return Issued{}, fmt.Errorf("mint family id: %w", err)
	}
	id, err := d.NewID()
	if err != nil {
		return Issued{}, fmt.Errorf("mint refresh id: %w", err)
	}
	secret, err := refresh.NewSecret()
	if err != nil {
		return Issued{}, err
	}

	rec := refresh.Record{
		ID:         id,
		Subject:    subject,
		FamilyID:   familyID,
		Scope:      scope,
		IssuedAt:   now,
		ExpiresAt:  now.Add(d.RefreshTTL),
		State:      refresh.StateActive,
		SecretHash: secret.Hash(),
	}

	// Sign first so a signing failure leaves no orphaned record behind.
	access, claims, err := issueAccess(ctx, d, subject, scope, familyID, now)
	if err != nil {
		return Issued{}, err
	}
	if err := d.Refresh.Create(ctx, rec); err != nil {
		return Issued{}, storeError{err}
	}

	return Issued{
		AccessToken:      access,
		RefreshToken:     refresh.EncodeToken(id, secret),
		Access:           claims,
		RefreshID:        id,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
