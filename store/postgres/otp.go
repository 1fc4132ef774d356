package postgres

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/careermate/authcore/otp"
)

// OTPStore implements otp.Store on one_time_passcodes, one row per account.
type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

// Save upserts the passcode and resets its attempt counter.
func (s *OTPStore) Save(ctx context.Context, rec otp.Record) error {
	ctx, span := startSpan(ctx, "postgres.otp.save", "INSERT")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO one_time_passcodes (account_id, code_hash, issued_at, expires_at, attempts)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (account_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    issued_at = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at,
		    attempts = 0
	`, rec.AccountID, rec.CodeHash[:], rec.IssuedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		return fail(span, fmt.Errorf("%w: %v", otp.ErrUnavailable, err))
	}
	return nil
}

// Consume locks the row and applies the expiry, attempt and match rules in
// one transaction. Outcomes that change the row are committed before the
// error is returned.
func (s *OTPStore) Consume(ctx context.Context, accountID string, presented [32]byte, now time.Time, maxAttempts int) (otp.Record, error) {
	ctx, span := startSpan(ctx, "postgres.otp.consume", "SELECT FOR UPDATE")
	defer span.End()

	var matched otp.Record
	var outcome error
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		rec, err := scanOTP(tx.QueryRowContext(ctx, selectOTP+` FOR UPDATE`, accountID))
		if err != nil {
			return err
		}

		if rec.Expired(now) {
			outcome = otp.ErrExpired
			return deleteOTP(ctx, tx, accountID)
		}
		if subtle.ConstantTimeCompare(rec.CodeHash[:], presented[:]) != 1 {
			rec.Attempts++
			if maxAttempts > 0 && int(rec.Attempts) >= maxAttempts {
				outcome = otp.ErrAttemptsExceeded
				return deleteOTP(ctx, tx, accountID)
			}
			outcome = otp.ErrMismatch
			_, err := tx.ExecContext(ctx, `UPDATE one_time_passcodes SET attempts = $2 WHERE account_id = $1`, accountID, int(rec.Attempts))
			return err
		}

		matched = rec
		return deleteOTP(ctx, tx, accountID)
	})

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return otp.Record{}, otp.ErrNotFound
	case err != nil:
		return otp.Record{}, fail(span, fmt.Errorf("%w: %v", otp.ErrUnavailable, err))
	case outcome != nil:
		return otp.Record{}, outcome
	}
	return matched, nil
}

func (s *OTPStore) Delete(ctx context.Context, accountID string) error {
	ctx, span := startSpan(ctx, "postgres.otp.delete", "DELETE")
	defer span.End()

	if err := deleteOTP(ctx, s.db, accountID); err != nil {
		return fail(span, fmt.Errorf("%w: %v", otp.ErrUnavailable, err))
	}
	return nil
}

const selectOTP = `SELECT account_id, code_hash, issued_at, expires_at, attempts FROM one_time_passcodes WHERE account_id = $1`

func deleteOTP(ctx context.Context, db DBTX, accountID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM one_time_passcodes WHERE account_id = $1`, accountID)
	return err
}

func scanOTP(row *sql.Row) (otp.Record, error) {
	var (
		rec      otp.Record
		hash     []byte
		attempts int
	)
	if err := row.Scan(&rec.AccountID, &hash, &rec.IssuedAt, &rec.ExpiresAt, &attempts); err != nil {
		return otp.Record{}, err
	}
	var ok bool
	if rec.CodeHash, ok = hash32(hash); !ok {
		return otp.Record{}, fmt.Errorf("corrupt code hash for %q", rec.AccountID)
	}
	rec.Attempts = uint16(attempts)
	return rec, nil
}

var _ otp.Store = (*OTPStore)(nil)
