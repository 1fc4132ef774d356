package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/careermate/authcore/internal/rate")

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// FixedWindow allows Limit hits per key per Window.
type FixedWindow struct {
	redis  redis.UniversalClient
	Limit  int
	Window time.Duration
}

// NewFixedWindow returns a counter over client.
func NewFixedWindow(client redis.UniversalClient, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{redis: client, Limit: limit, Window: window}
}

// Hit counts one request against key and returns ErrRateLimited once the
// count exceeds Limit. A non-positive Limit disables the check.
func (w *FixedWindow) Hit(ctx context.Context, key string) (int64, error) {
	if w == nil || w.Limit <= 0 {
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, "redis.rate.hit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "INCR"),
	)

	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, w.fail(span, err)
	}
	if count == 1 {
		if err := w.redis.Expire(ctx, key, w.Window).Err(); err != nil {
			return count, w.fail(span, err)
		}
	}

	if count > int64(w.Limit) {
		span.SetAttributes(attribute.Bool("rate.limited", true))
		return count, ErrRateLimited
	}
	return count, nil
}

// Reset clears the counter for key.
func (w *FixedWindow) Reset(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *FixedWindow) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}
