package limiters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careermate/authcore/internal/rate"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetConfig bounds reset requests per email.
type PasswordResetConfig struct {
	KeyPrefix         string
	RequestsPerWindow int
	Window            time.Duration
}

// PasswordResetLimiter counts reset requests per normalized email in a fixed
// window. Emails are hashed into the key so addresses never sit in Redis.
type PasswordResetLimiter struct {
	window *rate.FixedWindow
	prefix string
}

func NewPasswordResetLimiter(client redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	return &PasswordResetLimiter{
		window: rate.NewFixedWindow(client, cfg.RequestsPerWindow, cfg.Window),
		prefix: cfg.KeyPrefix,
	}
}

// CheckRequest counts one request for email.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	_, err := l.window.Hit(ctx, l.key(email))
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return ErrResetRateLimited
	case err != nil:
		return errors.Join(ErrResetRedisUnavailable, err)
	}
	return nil
}

func (l *PasswordResetLimiter) key(email string) string {
	sum := sha256.Sum256([]byte(email))
	return l.prefix + "rl:reset:" + hex.EncodeToString(sum[:16])
}
