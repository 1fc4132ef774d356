package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/otp"
	"github.com/careermate/authcore/password"
)

type ResetRequestFailureKind int

const (
	ResetRequestFailureNone ResetRequestFailureKind = iota
	ResetRequestFailureLimited
	ResetRequestFailureLimiter
	ResetRequestFailureLookup
	ResetRequestFailureNotFound
	ResetRequestFailureCode
	ResetRequestFailureStore
)

// ResetRequestResult carries the generated code for the caller to deliver.
type ResetRequestResult struct {
	Failure   ResetRequestFailureKind
	Err       error
	Account   *account.Account
	Code      string
	ExpiresAt time.Time
}

// RunRequestReset issues a passcode superseding any previous one. The rate
// limit is counted before the lookup so it behaves the same for unknown
// addresses.
func RunRequestReset(ctx context.Context, email string, d ResetDeps) ResetRequestResult {
	email = account.NormalizeEmail(email)

	if d.Limiter != nil {
		if err := d.Limiter.CheckRequest(ctx, email); err != nil {
			kind := ResetRequestFailureLimiter
			if d.RateLimited != nil && d.RateLimited(err) {
				kind = ResetRequestFailureLimited
			}
			return ResetRequestResult{Failure: kind, Err: err}
		}
	}

	acct, err := d.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return ResetRequestResult{Failure: ResetRequestFailureLookup, Err: err}
	}
	if acct == nil {
		return ResetRequestResult{Failure: ResetRequestFailureNotFound}
	}

	code, err := d.NewCode(d.OTPDigits)
	if err != nil {
		return ResetRequestResult{Failure: ResetRequestFailureCode, Err: err, Account: acct}
	}

	now := d.Tokens.Now()
	rec := otp.Record{
		AccountID: SubjectOf(acct),
		CodeHash:  otp.HashCode(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(d.OTPTTL),
	}
	if err := d.OTPs.Save(ctx, rec); err != nil {
		return ResetRequestResult{Failure: ResetRequestFailureStore, Err: err, Account: acct}
	}
	return ResetRequestResult{Account: acct, Code: code, ExpiresAt: rec.ExpiresAt}
}

type OTPFailureKind int

const (
	OTPFailureNone OTPFailureKind = iota
	OTPFailureLookup
	OTPFailureNotFound
	OTPFailureNoPasscode
	OTPFailureMismatch
	OTPFailureExpired
	OTPFailureAttempts
	OTPFailureStore
	OTPFailureIssue
)

// OTPResult carries the reset authorization minted for a matching code.
type OTPResult struct {
	Failure       OTPFailureKind
	Err           error
	Account       *account.Account
	Authorization string
	Claims        jwt.Claims
}

// RunVerifyOTP consumes the outstanding passcode of email. Expiry is checked
// before the code, so a stale passcode is deleted even when the guess is
// wrong.
func RunVerifyOTP(ctx context.Context, email, code string, d ResetDeps) OTPResult {
	acct, err := d.Accounts.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		return OTPResult{Failure: OTPFailureLookup, Err: err}
	}
	if acct == nil {
		return OTPResult{Failure: OTPFailureNotFound}
	}

	now := d.Tokens.Now()
	_, err = d.OTPs.Consume(ctx, SubjectOf(acct), otp.HashCode(code), now, d.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, otp.ErrNotFound):
		return OTPResult{Failure: OTPFailureNoPasscode, Err: err, Account: acct}
	case errors.Is(err, otp.ErrExpired):
		return OTPResult{Failure: OTPFailureExpired, Err: err, Account: acct}
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return OTPResult{Failure: OTPFailureAttempts, Err: err, Account: acct}
	case errors.Is(err, otp.ErrMismatch):
		return OTPResult{Failure: OTPFailureMismatch, Err: err, Account: acct}
	default:
		return OTPResult{Failure: OTPFailureStore, Err: err, Account: acct}
	}

	jti, err := d.Tokens.NewID()
	if err != nil {
		return OTPResult{Failure: OTPFailureIssue, Err: fmt.Errorf("mint jti: %w", err), Account: acct}
	}
	claims := jwt.Claims{
		ID:        jti,
		Subject:   account.NormalizeEmail(acct.Email),
		Type:      jwt.TypeReset,
		IssuedAt:  now,
		ExpiresAt: now.Add(d.AuthorizationTTL),
	}
	token, err := d.Tokens.Codec.Issue(ctx, claims)
	if err != nil {
		return OTPResult{Failure: OTPFailureIssue, Err: err, Account: acct}
	}
	return OTPResult{Account: acct, Authorization: token, Claims: claims}
}

type ChangeFailureKind int

const (
	ChangeFailureNone ChangeFailureKind = iota
	ChangeFailureMismatch
	ChangeFailurePolicy
	ChangeFailureLookup
	ChangeFailureNotFound
	ChangeFailureHash
	ChangeFailureStore
	ChangeFailureAuthorization
	ChangeFailureAuthorizationExpired
	ChangeFailureAuthorizationUsed
	ChangeFailureAuthorizationStore
)

type ChangeResult struct {
	Failure ChangeFailureKind
	Err     error
	Account *account.Account

	// Revoked counts refresh families revoked after the change. RevokeErr
	// and DiscardErr do not undo the change.
	Revoked    int
	RevokeErr  error
	DiscardErr error
}

// checkNewPassword applies the checks that need no state.
func checkNewPassword(newPassword, repeatPassword string, d ResetDeps) (ChangeFailureKind, error) {
	if subtle.ConstantTimeCompare([]byte(newPassword), []byte(repeatPassword)) != 1 {
		return ChangeFailureMismatch, nil
	}
	if len(newPassword) < d.Passwords.MinLength() {
		return ChangeFailurePolicy, fmt.Errorf("%w: minimum is %d bytes", password.ErrTooShort, d.Passwords.MinLength())
	}
	return ChangeFailureNone, nil
}

// RunChangePassword replaces the password of email. It trusts the caller to
// have completed VerifyOTP first.
func RunChangePassword(ctx context.Context, email, newPassword, repeatPassword string, d ResetDeps) ChangeResult {
	if kind, err := checkNewPassword(newPassword, repeatPassword, d); kind != ChangeFailureNone {
		return ChangeResult{Failure: kind, Err: err}
	}
	return changePassword(ctx, email, newPassword, d)
}

// RunChangePasswordWithAuthorization redeems a reset authorization and
// changes the password of its subject. The authorization is spent only
// after the new password passes the stateless checks.
func RunChangePasswordWithAuthorization(ctx context.Context, authorization, newPassword, repeatPassword string, d ResetDeps) ChangeResult {
	if kind, err := checkNewPassword(newPassword, repeatPassword, d); kind != ChangeFailureNone {
		return ChangeResult{Failure: kind, Err: err}
	}

	v := RunVerify(ctx, authorization, jwt.TypeReset, d.Tokens)
	switch v.Failure {
	case VerifyFailureNone:
	case VerifyFailureExpired:
		return ChangeResult{Failure: ChangeFailureAuthorizationExpired}
	case VerifyFailureRevoked:
		return ChangeResult{Failure: ChangeFailureAuthorizationUsed}
	case VerifyFailureStore:
		return ChangeResult{Failure: ChangeFailureAuthorizationStore, Err: v.Err}
	default:
		return ChangeResult{Failure: ChangeFailureAuthorization, Err: v.Err}
	}

	claimed, err := d.Tokens.Revocation.Claim(ctx, v.Claims.ID, v.Claims.ExpiresAt)
	if err != nil {
		return ChangeResult{Failure: ChangeFailureAuthorizationStore, Err: err}
	}
	if !claimed {
		return ChangeResult{Failure: ChangeFailureAuthorizationUsed}
	}
	return changePassword(ctx, v.Claims.Subject, newPassword, d)
}

func changePassword(ctx context.Context, email, newPassword string, d ResetDeps) ChangeResult {
	acct, err := d.Accounts.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		return ChangeResult{Failure: ChangeFailureLookup, Err: err}
	}
	if acct == nil {
		return ChangeResult{Failure: ChangeFailureNotFound}
	}

	hash, err := d.Passwords.Hash(newPassword)
	if err != nil {
		kind := ChangeFailureHash
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			kind = ChangeFailurePolicy
		}
		return ChangeResult{Failure: kind, Err: err, Account: acct}
	}
	if err := d.Accounts.UpdatePasswordHash(ctx, acct.Email, hash); err != nil {
		return ChangeResult{Failure: ChangeFailureStore, Err: err, Account: acct}
	}

	// A passcode issued before the change must not authorize another one.
	res := ChangeResult{Account: acct}
	res.DiscardErr = d.OTPs.Delete(ctx, SubjectOf(acct))
	if d.RevokeSessionsOnChange {
		res.Revoked, res.RevokeErr = d.Tokens.Refresh.RevokeSubject(ctx, SubjectOf(acct))
	}
	return res
}
