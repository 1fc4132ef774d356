// Package revocation is the access-token denylist. Entries are keyed by jti
// and live until the token's own expiry, after which every read path ignores
// them.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/careermate/authcore/clock"
)

var tracer = otel.Tracer("github.com/careermate/authcore/revocation")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("revocation: store unavailable")

// Store records revoked jti values.
type Store interface {
	// Revoke denylists jti until expiresAt. Revoking an already expired token
	// is a no-op; revoking twice is harmless.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error

	// IsRevoked reports whether jti is denylisted. On backend failure it
	// returns (true, err): callers must fail closed.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Claim denylists jti until expiresAt and reports whether this call added
	// the entry. It redeems single-use tokens: of several concurrent callers
	// exactly one gets true. An already expired token is never claimed.
	Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// RedisStore keeps one key per jti at <prefix>rvk:<jti> with a TTL equal to
// the token's remaining lifetime.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient, prefix string, c clock.Clock) *RedisStore {
	if c == nil {
		c = clock.Real{}
	}
	return &RedisStore{redis: client, prefix: prefix, clock: c}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + "rvk:" + jti
}

// Revoke sets the denylist key with TTL expiresAt-now.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "redis.revocation.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if err := s.redis.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: revoke %q: %v", ErrUnavailable, jti, err)
	}
	return nil
}

// IsRevoked checks the denylist key.
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.revocation.is_revoked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("%w: check %q: %v", ErrUnavailable, jti, err)
	}
	return n > 0, nil
}

// Claim sets the denylist key only if it is absent.
func (s *RedisStore) Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "redis.revocation.claim")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET NX"),
	)

	ok, err := s.redis.SetNX(ctx, s.key(jti), "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("%w: claim %q: %v", ErrUnavailable, jti, err)
	}
	return ok, nil
}

var _ Store = (*RedisStore)(nil)
