package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when the account status forbids login.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountNotFound is returned when no account has the email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for tokens that do not parse, do not verify
	// or are unknown.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenRevoked is returned for denylisted access tokens and spent reset
	// authorizations.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenReuseDetected is returned when a refresh token that is no longer
	// active is presented. Its family has been revoked.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrOtpInvalid is returned when no passcode is outstanding or the code
	// does not match.
	ErrOtpInvalid = errors.New("otp invalid")
	// ErrOtpExpired is returned when the outstanding passcode has expired.
	ErrOtpExpired = errors.New("otp expired")
	// ErrPasswordMismatch is returned when the new password and its repetition
	// differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrPasswordPolicy is returned when the new password is too short or too
	// long.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrResetRateLimited is returned when an email asked for too many resets.
	ErrResetRateLimited = errors.New("password reset rate limited")
	// ErrBackendUnavailable wraps store and limiter failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidConfig is returned by Config.Validate and Builder.Build.
	ErrInvalidConfig = errors.New("invalid config")
)

// IsSecurityEvent reports whether err signals a likely attack, currently
// refresh token reuse.
func IsSecurityEvent(err error) bool {
	return errors.Is(err, ErrTokenReuseDetected)
}

// wrap attaches cause to a public sentinel. A nil cause returns the sentinel.
func wrap(public, cause error) error {
	if cause == nil {
		return public
	}
	return fmt.Errorf("%w: %w", public, cause)
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
