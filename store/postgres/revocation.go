package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/revocation"
)

// RevocationStore implements revocation.Store on revoked_access_tokens. Rows
// past their expiry are ignored and removed by Prune.
type RevocationStore struct {
	db    DBTX
	clock clock.Clock
}

func NewRevocationStore(db DBTX, c clock.Clock) *RevocationStore {
	if c == nil {
		c = clock.Real{}
	}
	return &RevocationStore{db: db, clock: c}
}

func (s *RevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ctx, span := startSpan(ctx, "postgres.revocation.revoke", "INSERT")
	defer span.End()

	if !expiresAt.After(s.clock.Now()) {
		return nil
	}
	if _, err := s.insert(ctx, jti, expiresAt); err != nil {
		return fail(span, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err))
	}
	return nil
}

// IsRevoked fails closed: on error it reports the token revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := startSpan(ctx, "postgres.revocation.is_revoked", "SELECT")
	defer span.End()

	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_access_tokens WHERE jti = $1 AND expires_at > $2)`,
		jti, s.clock.Now().UTC(),
	).Scan(&revoked)
	if err != nil {
		return true, fail(span, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err))
	}
	return revoked, nil
}

// Claim inserts the jti unless a row exists. The primary key makes exactly
// one concurrent caller see an inserted row.
func (s *RevocationStore) Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "postgres.revocation.claim", "INSERT")
	defer span.End()

	if !expiresAt.After(s.clock.Now()) {
		return false, nil
	}
	n, err := s.insert(ctx, jti, expiresAt)
	if err != nil {
		return false, fail(span, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err))
	}
	return n == 1, nil
}

func (s *RevocationStore) insert(ctx context.Context, jti string, expiresAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2) ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ revocation.Store = (*RevocationStore)(nil)
	_ DBTX             = (*sql.DB)(nil)
)
