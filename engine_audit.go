package authcore

import (
	"context"

	"github.com/careermate/authcore/internal/audit"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetLimited  = "password_reset_rate_limited"
	auditEventOTPVerify             = "otp_verify"
	auditEventPasswordChange        = "password_change"
	auditEventPasswordChangeFailure = "password_change_failure"
)

const (
	auditReasonAccountNotFound    = "account_not_found"
	auditReasonInvalidCredentials = "invalid_credentials"
	auditReasonAccountInactive    = "account_inactive"
	auditReasonInvalidToken       = "invalid_token"
	auditReasonExpired            = "expired"
	auditReasonRefreshReuse       = "refresh_reuse"
	auditReasonRateLimited        = "rate_limited"
	auditReasonOTPInvalid         = "otp_invalid"
	auditReasonAttemptsExceeded   = "attempts_exceeded"
	auditReasonPasswordMismatch   = "password_mismatch"
	auditReasonPasswordPolicy     = "password_policy"
	auditReasonAuthorizationUsed  = "authorization_used"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, subject string, success bool, reason string) {
	e.emitAuditEvent(ctx, audit.Event{
		Type:    eventType,
		Subject: subject,
		Success: success,
		Reason:  reason,
	})
}

func (e *Engine) emitAuditEvent(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now()
	}
	e.audit.Emit(ctx, event)
}
