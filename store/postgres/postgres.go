// Package postgres implements the refresh, revocation and passcode stores on
// PostgreSQL through database/sql and the pgx driver.
//
// Rotation and passcode consumption run in transactions that lock the row
// with SELECT ... FOR UPDATE and change it with a conditional UPDATE, so of
// several concurrent callers exactly one observes the active row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/careermate/authcore/store/postgres/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/careermate/authcore/store/postgres")

// DBTX is the subset of database/sql used by the queries. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects with the pgx driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// PruneResult counts the rows removed by Prune.
type PruneResult struct {
	RefreshTokens int64
	Revocations   int64
	Passcodes     int64
}

// Prune deletes denylist entries past their expiry, and refresh records and
// passcodes whose expiry is older than retention. Nothing requires it to
// run; it keeps the tables small.
func Prune(ctx context.Context, db DBTX, now time.Time, retention time.Duration) (PruneResult, error) {
	ctx, span := startSpan(ctx, "postgres.prune", "DELETE")
	defer span.End()

	var res PruneResult
	cutoff := now.Add(-retention)

	steps := []struct {
		query string
		arg   time.Time
		count *int64
	}{
		{`DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff, &res.RefreshTokens},
		{`DELETE FROM revoked_access_tokens WHERE expires_at <= $1`, now, &res.Revocations},
		{`DELETE FROM one_time_passcodes WHERE expires_at < $1`, cutoff, &res.Passcodes},
	}
	for _, step := range steps {
		r, err := db.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return res, fail(span, fmt.Errorf("prune: %w", err))
		}
		n, err := r.RowsAffected()
		if err != nil {
			return res, fail(span, fmt.Errorf("prune: %w", err))
		}
		*step.count = n
	}
	return res, nil
}

// withTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise. Panics roll back and are rethrown.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func hash32(b []byte) ([32]byte, bool) {
	var out [32]byte
	if len(b) != len(out) {
		return out, false
	}
	copy(out[:], b)
	return out, true
}
