package postgres

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/careermate/authcore/refresh"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const refreshColumns = `id, subject, family_id, secret_hash, scope, state, replaced_by, issued_at, expires_at`

// RefreshStore implements refresh.Store on the refresh_tokens table.
type RefreshStore struct {
	db *sql.DB
}

func NewRefreshStore(db *sql.DB) *RefreshStore {
	return &RefreshStore{db: db}
}

func (s *RefreshStore) Create(ctx context.Context, rec refresh.Record) error {
	ctx, span := startSpan(ctx, "postgres.refresh.create", "INSERT")
	defer span.End()

	if err := insertRefresh(ctx, s.db, rec); err != nil {
		return fail(span, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err))
	}
	return nil
}

// Rotate locks the presented row, classifies it and, when it is active and
// live, marks it rotated and inserts the successor in the same transaction.
func (s *RefreshStore) Rotate(ctx context.Context, id string, presented [32]byte, next refresh.Successor, now time.Time) (refresh.Record, error) {
	ctx, span := startSpan(ctx, "postgres.refresh.rotate", "UPDATE")
	defer span.End()

	if next.ID == "" {
		return refresh.Record{}, fail(span, fmt.Errorf("%w: invalid successor", refresh.ErrCorrupt))
	}

	var prev refresh.Record
	var outcome error
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE id = $1 FOR UPDATE`
		rec, err := scanRefresh(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return err
		}
		prev = rec

		switch {
		case subtle.ConstantTimeCompare(rec.SecretHash[:], presented[:]) != 1:
			outcome = refresh.ErrSecretMismatch
			return nil
		case rec.State != refresh.StateActive:
			outcome = refresh.ErrNotActive
			return nil
		case rec.Expired(now):
			outcome = refresh.ErrExpired
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET state = 'rotated', replaced_by = $2 WHERE id = $1 AND state = 'active'`,
			id, next.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			outcome = refresh.ErrNotActive
			return nil
		}
		return insertRefresh(ctx, tx, rec.Next(next))
	})

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return refresh.Record{}, errors.Join(err, refresh.ErrNotFound)
	case errors.Is(err, refresh.ErrCorrupt):
		return refresh.Record{}, fail(span, err)
	case err != nil:
		return refresh.Record{}, fail(span, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err))
	}
	if outcome != nil {
		span.SetAttributes(attribute.String("refresh.rotate.outcome", outcome.Error()))
		return prev, outcome
	}
	return prev, nil
}

// RevokeFamily revokes every record of the family, including successors
// inserted by rotations that commit while the revoke runs.
func (s *RefreshStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	ctx, span := startSpan(ctx, "postgres.refresh.revoke_family", "UPDATE")
	defer span.End()

	return s.revoke(ctx, span, `UPDATE refresh_tokens SET state = 'revoked' WHERE family_id = $1 AND state <> 'revoked'`, familyID)
}

// RevokeSubject revokes every record of the subject the same way.
func (s *RefreshStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	ctx, span := startSpan(ctx, "postgres.refresh.revoke_subject", "UPDATE")
	defer span.End()

	return s.revoke(ctx, span, `UPDATE refresh_tokens SET state = 'revoked' WHERE subject = $1 AND state <> 'revoked'`, subject)
}

// revoke repeats the UPDATE in one transaction until a pass touches no row.
// A READ COMMITTED statement that waited on a concurrent Rotate keeps its old
// snapshot and misses the inserted successor; the next pass sees it. Revoked
// rows stay locked until commit, so a Rotate queued behind them inserts
// nothing.
func (s *RefreshStore) revoke(ctx context.Context, span trace.Span, query, arg string) (int, error) {
	var total int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for pass := 1; ; pass++ {
			res, err := tx.ExecContext(ctx, query, arg)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				span.SetAttributes(attribute.Int("refresh.revoke.passes", pass))
				return nil
			}
			total += int(n)
		}
	})
	if err != nil {
		return 0, fail(span, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err))
	}
	return total, nil
}

func insertRefresh(ctx context.Context, db DBTX, rec refresh.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		rec.Subject,
		rec.FamilyID,
		rec.SecretHash[:],
		rec.Scope,
		string(rec.State),
		nullString(rec.ReplacedBy),
		rec.IssuedAt.UTC(),
		rec.ExpiresAt.UTC(),
	)
	return err
}

func scanRefresh(row *sql.Row) (refresh.Record, error) {
	var (
		rec        refresh.Record
		hash       []byte
		state      string
		replacedBy sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Subject, &rec.FamilyID, &hash, &rec.Scope, &state, &replacedBy, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		return refresh.Record{}, err
	}

	var ok bool
	if rec.SecretHash, ok = hash32(hash); !ok {
		return refresh.Record{}, fmt.Errorf("%w: secret hash of %q", refresh.ErrCorrupt, rec.ID)
	}
	rec.State = refresh.State(state)
	if !rec.State.Valid() {
		return refresh.Record{}, fmt.Errorf("%w: state %q of %q", refresh.ErrCorrupt, state, rec.ID)
	}
	rec.ReplacedBy = replacedBy.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ refresh.Store = (*RefreshStore)(nil)
