package flows

import (
	"context"
	"time"

	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/otp"
	"github.com/careermate/authcore/refresh"
	"github.com/careermate/authcore/revocation"
)

// Codec is the subset of *jwt.Manager the flows use.
type Codec interface {
	Issue(ctx context.Context, c jwt.Claims) (string, error)
	Decode(ctx context.Context, token string) (jwt.Claims, error)
}

// PasswordHasher is implemented by *password.Hasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
	MinLength() int
}

// ResetLimiter throttles reset requests per email.
type ResetLimiter interface {
	CheckRequest(ctx context.Context, email string) error
}

// TokenDeps is shared by every flow that issues or checks tokens.
type TokenDeps struct {
	Now        func() time.Time
	NewID      func() (string, error)
	Codec      Codec
	Refresh    refresh.Store
	Revocation revocation.Store
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// LoginDeps captures Authenticate dependencies.
type LoginDeps struct {
	Tokens    TokenDeps
	Accounts  account.Store
	Passwords PasswordHasher

	// DummyHash is verified against when the account does not exist so the
	// not-found path costs one hash like the others.
	DummyHash      string
	UpgradeOnLogin bool
}

// ResetDeps captures the password reset dependencies.
type ResetDeps struct {
	Tokens    TokenDeps
	Accounts  account.Store
	Passwords PasswordHasher
	OTPs      otp.Store
	Limiter   ResetLimiter
	NewCode   func(digits int) (string, error)

	// RateLimited tells a limiter rejection from a limiter failure.
	RateLimited func(error) bool

	OTPDigits              int
	OTPTTL                 time.Duration
	AuthorizationTTL       time.Duration
	MaxAttempts            int
	RevokeSessionsOnChange bool
}

// Deps groups every flow dependency set. The engine builds it once.
type Deps struct {
	Tokens TokenDeps
	Login  LoginDeps
	Reset  ResetDeps
}

// SubjectOf is the token subject of an account: its id, or its email when
// the store does not assign ids.
func SubjectOf(a *account.Account) string {
	if a.ID != "" {
		return a.ID
	}
	return account.NormalizeEmail(a.Email)
}
