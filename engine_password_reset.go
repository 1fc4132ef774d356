package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careermate/authcore/internal/audit"
	"github.com/careermate/authcore/internal/flows"
	"github.com/careermate/authcore/metrics"
)

const resetSubject = "Your password reset code"

// RequestReset sends a passcode to the account of email. An unknown email
// returns nil after the same minimum delay, unless
// PasswordReset.RevealUnknownAccount is set. Delivery happens in the
// background; its failures are logged and counted, never returned.
func (e *Engine) RequestReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	defer e.padResponse(ctx, time.Now())

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.RequestReset(opCtx, email)
	switch res.Failure {
	case flows.ResetRequestFailureNone:
	case flows.ResetRequestFailureLimited:
		e.metricInc(metrics.ResetRateLimited)
		e.emitAudit(opCtx, auditEventPasswordResetLimited, "", false, auditReasonRateLimited)
		return wrap(ErrResetRateLimited, res.Err)
	case flows.ResetRequestFailureLimiter:
		return e.backendFailure(opCtx, "reset.limiter", res.Err)
	case flows.ResetRequestFailureLookup:
		return e.backendFailure(opCtx, "reset.lookup", res.Err)
	case flows.ResetRequestFailureNotFound:
		e.metricInc(metrics.ResetRequest)
		if e.config.PasswordReset.RevealUnknownAccount {
			return ErrAccountNotFound
		}
		return nil
	case flows.ResetRequestFailureStore:
		return e.backendFailure(opCtx, "reset.save_otp", res.Err)
	default:
		return fmt.Errorf("authcore: generate passcode: %w", res.Err)
	}

	subject := flows.SubjectOf(res.Account)
	e.metricInc(metrics.ResetRequest)
	e.emitAudit(opCtx, auditEventPasswordResetRequest, subject, true, "")
	e.notify(ctx, subject, res.Account.Email, resetBody(res.Code, res.ExpiresAt))
	return nil
}

func resetBody(code string, expiresAt time.Time) string {
	return fmt.Sprintf("Your password reset code is %s. It expires at %s.",
		code, expiresAt.UTC().Format("15:04:05 MST"))
}

// notify hands the message to the notifier on a tracked goroutine that
// outlives ctx but not the notification timeout.
func (e *Engine) notify(ctx context.Context, subject, to, body string) {
	started := e.goBackground(func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.PasswordReset.NotificationTimeout)
		defer cancel()
		if err := e.notifier.Send(nctx, to, resetSubject, body); err != nil {
			e.metricInc(metrics.ResetNotifyFailure)
			e.logger.ErrorContext(nctx, "auth.reset_notification_failed",
				slog.String("subject", subject),
				slog.Any("error", err),
			)
		}
	})
	if !started {
		e.logger.WarnContext(ctx, "auth.reset_notification_skipped", slog.String("subject", subject))
	}
}

// padResponse sleeps until MinResponse has passed since start so request
// timing does not tell known accounts from unknown ones.
func (e *Engine) padResponse(ctx context.Context, start time.Time) {
	wait := e.config.PasswordReset.MinResponse - time.Since(start)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// VerifyOTP consumes the outstanding passcode of email and returns a reset
// authorization. It fails with ErrOtpExpired when the passcode has expired,
// which is checked before the code, and with ErrOtpInvalid otherwise.
// A passcode is deleted once used, once expired, or after too many wrong
// attempts.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string) (ResetAuthorization, error) {
	if !e.ready() {
		return ResetAuthorization{}, ErrEngineNotReady
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.VerifyOTP(ctx, email, code)
	var subject string
	if res.Account != nil {
		subject = flows.SubjectOf(res.Account)
	}
	switch res.Failure {
	case flows.OTPFailureNone:
	case flows.OTPFailureLookup, flows.OTPFailureStore:
		return ResetAuthorization{}, e.backendFailure(ctx, "otp.verify", res.Err)
	case flows.OTPFailureNotFound, flows.OTPFailureNoPasscode, flows.OTPFailureMismatch:
		e.metricInc(metrics.OTPVerifyFailure)
		e.emitAudit(ctx, auditEventOTPVerify, subject, false, auditReasonOTPInvalid)
		return ResetAuthorization{}, wrap(ErrOtpInvalid, res.Err)
	case flows.OTPFailureAttempts:
		e.metricInc(metrics.OTPVerifyFailure)
		e.logger.WarnContext(ctx, "auth.otp_attempts_exceeded", slog.String("subject", subject))
		e.emitAudit(ctx, auditEventOTPVerify, subject, false, auditReasonAttemptsExceeded)
		return ResetAuthorization{}, wrap(ErrOtpInvalid, res.Err)
	case flows.OTPFailureExpired:
		e.metricInc(metrics.OTPExpired)
		e.emitAudit(ctx, auditEventOTPVerify, subject, false, auditReasonExpired)
		return ResetAuthorization{}, wrap(ErrOtpExpired, res.Err)
	default:
		return ResetAuthorization{}, fmt.Errorf("authcore: issue reset authorization: %w", res.Err)
	}

	e.metricInc(metrics.OTPVerifySuccess)
	e.emitAuditEvent(ctx, audit.Event{
		Type:    auditEventOTPVerify,
		Subject: subject,
		TokenID: res.Claims.ID,
		Success: true,
	})
	return ResetAuthorization{Token: res.Authorization, ExpiresAt: res.Claims.ExpiresAt}, nil
}

// ChangePassword replaces the password of email. It does not check that a
// passcode was verified; callers that cannot vouch for that use
// ChangePasswordWithAuthorization.
func (e *Engine) ChangePassword(ctx context.Context, email, newPassword, repeatPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	return e.changeOutcome(ctx, e.flows.ChangePassword(ctx, email, newPassword, repeatPassword))
}

// ChangePasswordWithAuthorization redeems a reset authorization from
// VerifyOTP and changes the password of its account. An authorization is
// good for one successful change; it fails with ErrTokenRevoked afterwards
// and ErrTokenExpired once it expires. Password checks run first, so a
// rejected password does not spend the authorization.
func (e *Engine) ChangePasswordWithAuthorization(ctx context.Context, authorization, newPassword, repeatPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	return e.changeOutcome(ctx, e.flows.ChangePasswordWithAuthorization(ctx, authorization, newPassword, repeatPassword))
}

func (e *Engine) changeOutcome(ctx context.Context, res flows.ChangeResult) error {
	var subject string
	if res.Account != nil {
		subject = flows.SubjectOf(res.Account)
	}

	var err error
	reason := ""
	switch res.Failure {
	case flows.ChangeFailureNone:
	case flows.ChangeFailureMismatch:
		err, reason = ErrPasswordMismatch, auditReasonPasswordMismatch
	case flows.ChangeFailurePolicy:
		err, reason = wrap(ErrPasswordPolicy, res.Err), auditReasonPasswordPolicy
	case flows.ChangeFailureNotFound:
		err, reason = ErrAccountNotFound, auditReasonAccountNotFound
	case flows.ChangeFailureAuthorization:
		err, reason = wrap(ErrTokenInvalid, res.Err), auditReasonInvalidToken
	case flows.ChangeFailureAuthorizationExpired:
		err, reason = ErrTokenExpired, auditReasonExpired
	case flows.ChangeFailureAuthorizationUsed:
		err, reason = ErrTokenRevoked, auditReasonAuthorizationUsed
	case flows.ChangeFailureLookup, flows.ChangeFailureStore, flows.ChangeFailureAuthorizationStore:
		return e.backendFailure(ctx, "password_change", res.Err)
	default:
		return fmt.Errorf("authcore: hash password: %w", res.Err)
	}
	if err != nil {
		e.metricInc(metrics.PasswordChangeRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, subject, false, reason)
		return err
	}

	if res.RevokeErr != nil {
		e.metricInc(metrics.BackendUnavailable)
		e.logger.ErrorContext(ctx, "auth.password_change_revoke_failed",
			slog.String("subject", subject),
			slog.Any("error", res.RevokeErr),
		)
	}
	if res.DiscardErr != nil {
		e.metricInc(metrics.BackendUnavailable)
		e.logger.ErrorContext(ctx, "auth.password_change_otp_discard_failed",
			slog.String("subject", subject),
			slog.Any("error", res.DiscardErr),
		)
	}
	e.metricInc(metrics.PasswordChangeSuccess)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventPasswordChange,
		Subject:  subject,
		Success:  true,
		Metadata: map[string]string{"revoked_families": fmt.Sprint(res.Revoked)},
	})
	return nil
}
