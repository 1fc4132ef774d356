package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/internal/audit"
	"github.com/careermate/authcore/internal/flows"
	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/metrics"
)

// Engine runs the authentication and password reset operations. Build one
// with New().…Build(); it is safe for concurrent use.
type Engine struct {
	config   Config
	flows    flows.Service
	clock    clock.Clock
	notifier Notifier
	logger   *slog.Logger
	audit    *audit.Dispatcher
	metrics  *metrics.Metrics

	// mu orders background.Add against Close so no goroutine starts after
	// Close has begun waiting.
	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
	closeOnce  sync.Once
}

// Close waits for pending notifications and drains the audit dispatcher.
// Operations after Close keep working but no longer send notifications.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.background.Wait()
		e.audit.Close()
	})
}

// goBackground runs fn on a goroutine tracked by Close. It reports false
// without running fn once Close has started.
func (e *Engine) goBackground(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		fn()
	}()
	return true
}

// AuditDropped is the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters and histograms.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return metrics.New(metrics.Config{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id metrics.ID) {
	e.metrics.Inc(id)
}

func (e *Engine) observe(id metrics.ID, start time.Time) {
	e.metrics.Observe(id, time.Since(start))
}

// opContext bounds one operation's store calls.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

// backendFailure logs, counts and wraps a store or limiter failure.
func (e *Engine) backendFailure(ctx context.Context, op string, err error) error {
	e.metricInc(metrics.BackendUnavailable)
	e.logger.ErrorContext(ctx, "auth.backend_unavailable", slog.String("op", op), slog.Any("error", err))
	return wrap(ErrBackendUnavailable, err)
}

func (e *Engine) tokenPair(issued flows.Issued) TokenPair {
	now := e.clock.Now()
	return TokenPair{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		ExpiresIn:        int64(issued.Access.ExpiresAt.Sub(now) / time.Second),
		AccessExpiresAt:  issued.Access.ExpiresAt,
		RefreshExpiresAt: issued.RefreshExpiresAt,
	}
}

// Authenticate checks email and password and starts a new session.
//
// It fails with ErrAccountNotFound, ErrInvalidCredentials or
// ErrAccountInactive. The password is checked before the status, so a caller
// with a wrong password cannot learn that an account is locked.
func (e *Engine) Authenticate(ctx context.Context, email, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	defer e.observe(metrics.LoginLatency, time.Now())

	ctx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.Login(ctx, email, password)
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureLookup:
		return TokenPair{}, e.backendFailure(ctx, "login.lookup", res.Err)
	case flows.LoginFailureNotFound:
		e.metricInc(metrics.LoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, "", false, auditReasonAccountNotFound)
		return TokenPair{}, ErrAccountNotFound
	case flows.LoginFailureBadPassword:
		e.metricInc(metrics.LoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, flows.SubjectOf(res.Account), false, auditReasonInvalidCredentials)
		return TokenPair{}, ErrInvalidCredentials
	case flows.LoginFailureHash:
		e.metricInc(metrics.LoginFailure)
		e.logger.ErrorContext(ctx, "auth.password_hash_unreadable",
			slog.String("subject", flows.SubjectOf(res.Account)),
			slog.Any("error", res.Err),
		)
		e.emitAudit(ctx, auditEventLoginFailure, flows.SubjectOf(res.Account), false, auditReasonInvalidCredentials)
		return TokenPair{}, wrap(ErrInvalidCredentials, res.Err)
	case flows.LoginFailureInactive:
		e.metricInc(metrics.LoginInactive)
		e.emitAudit(ctx, auditEventLoginFailure, flows.SubjectOf(res.Account), false, auditReasonAccountInactive)
		return TokenPair{}, ErrAccountInactive
	case flows.LoginFailureStore:
		return TokenPair{}, e.backendFailure(ctx, "login.create_refresh", res.Err)
	default:
		return TokenPair{}, fmt.Errorf("authcore: issue tokens: %w", res.Err)
	}

	subject := flows.SubjectOf(res.Account)
	if res.UpgradeErr != nil {
		e.logger.WarnContext(ctx, "auth.password_hash_upgrade_failed",
			slog.String("subject", subject),
			slog.Any("error", res.UpgradeErr),
		)
	}
	if res.Upgraded {
		e.metricInc(metrics.PasswordHashUpgraded)
		e.logger.InfoContext(ctx, "auth.password_hash_upgraded", slog.String("subject", subject))
	}

	e.metricInc(metrics.LoginSuccess)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventLoginSuccess,
		Subject:  subject,
		FamilyID: res.Issued.Access.FamilyID,
		TokenID:  res.Issued.Access.ID,
		Success:  true,
	})
	return e.tokenPair(res.Issued), nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// spent. Presenting a spent or revoked token revokes every token of its
// family and fails with ErrTokenReuseDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	defer e.observe(metrics.RefreshLatency, time.Now())

	ctx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.Refresh(ctx, refreshToken)
	prev := res.Previous
	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureMalformed, flows.RefreshFailureNotFound, flows.RefreshFailureMismatch:
		e.metricInc(metrics.RefreshFailure)
		e.emitAuditEvent(ctx, audit.Event{
			Type:     auditEventRefreshInvalid,
			Subject:  prev.Subject,
			FamilyID: prev.FamilyID,
			Reason:   auditReasonInvalidToken,
		})
		return TokenPair{}, wrap(ErrTokenInvalid, res.Err)
	case flows.RefreshFailureReuse:
		return TokenPair{}, e.reuseDetected(ctx, res)
	case flows.RefreshFailureExpired:
		e.metricInc(metrics.RefreshExpired)
		e.emitAuditEvent(ctx, audit.Event{
			Type:     auditEventRefreshInvalid,
			Subject:  prev.Subject,
			FamilyID: prev.FamilyID,
			Reason:   auditReasonExpired,
		})
		return TokenPair{}, wrap(ErrTokenExpired, res.Err)
	case flows.RefreshFailureStore:
		return TokenPair{}, e.backendFailure(ctx, "refresh.rotate", res.Err)
	default:
		return TokenPair{}, fmt.Errorf("authcore: issue tokens: %w", res.Err)
	}

	e.metricInc(metrics.RefreshSuccess)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventRefreshSuccess,
		Subject:  prev.Subject,
		FamilyID: prev.FamilyID,
		TokenID:  res.Issued.RefreshID,
		Success:  true,
	})
	return e.tokenPair(res.Issued), nil
}

func (e *Engine) reuseDetected(ctx context.Context, res flows.RefreshResult) error {
	prev := res.Previous
	e.metricInc(metrics.RefreshReuseDetected)
	e.logger.WarnContext(ctx, "auth.refresh_token_reuse",
		slog.String("subject", prev.Subject),
		slog.String("family_id", prev.FamilyID),
		slog.String("refresh_id", prev.ID),
		slog.String("state", string(prev.State)),
		slog.Int("revoked", res.Revoked),
	)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventRefreshReuseDetected,
		Subject:  prev.Subject,
		FamilyID: prev.FamilyID,
		TokenID:  prev.ID,
		Reason:   auditReasonRefreshReuse,
	})
	if res.RevokeErr != nil {
		return errors.Join(wrap(ErrTokenReuseDetected, res.Err), e.backendFailure(ctx, "refresh.revoke_family", res.RevokeErr))
	}
	return wrap(ErrTokenReuseDetected, res.Err)
}

// VerifyAccessToken returns the claims of a valid, unexpired, unrevoked access
// token. A denylist read failure rejects the token with ErrBackendUnavailable.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (Claims, error) {
	if !e.ready() {
		return Claims{}, ErrEngineNotReady
	}
	defer e.observe(metrics.VerifyLatency, time.Now())

	ctx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.VerifyAccess(ctx, token)
	switch res.Failure {
	case flows.VerifyFailureNone:
		e.metricInc(metrics.AccessVerified)
		return res.Claims, nil
	case flows.VerifyFailureDecode, flows.VerifyFailureType:
		e.metricInc(metrics.AccessRejected)
		if errors.Is(res.Err, jwt.ErrInvalidSignature) {
			e.logger.WarnContext(ctx, "auth.access_token_rejected", slog.String("reason", "invalid_signature"))
		} else {
			e.logger.DebugContext(ctx, "auth.access_token_rejected", slog.String("reason", "malformed"))
		}
		return Claims{}, wrap(ErrTokenInvalid, res.Err)
	case flows.VerifyFailureExpired:
		e.metricInc(metrics.AccessRejected)
		return Claims{}, ErrTokenExpired
	case flows.VerifyFailureRevoked:
		e.metricInc(metrics.AccessRevoked)
		return Claims{}, ErrTokenRevoked
	default:
		e.metricInc(metrics.AccessRejected)
		return Claims{}, e.backendFailure(ctx, "verify.revocation", res.Err)
	}
}

// Logout denylists the access token until it expires and revokes the refresh
// family of its session. An expired access token is still accepted. Logging
// out twice succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	res := e.flows.Logout(ctx, accessToken)
	switch res.Failure {
	case flows.LogoutFailureNone:
	case flows.LogoutFailureDecode:
		return wrap(ErrTokenInvalid, res.Err)
	default:
		return e.backendFailure(ctx, "logout", res.Err)
	}

	e.metricInc(metrics.Logout)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventLogout,
		Subject:  res.Claims.Subject,
		FamilyID: res.Claims.FamilyID,
		TokenID:  res.Claims.ID,
		Success:  true,
		Metadata: map[string]string{"revoked": fmt.Sprint(res.Revoked)},
	})
	return nil
}

// LogoutAll revokes every refresh family of subject. Access tokens already
// issued stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if subject == "" {
		return errors.New("authcore: subject is required")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	n, err := e.flows.LogoutAll(ctx, subject)
	if err != nil {
		return e.backendFailure(ctx, "logout_all", err)
	}
	e.metricInc(metrics.LogoutAll)
	e.emitAuditEvent(ctx, audit.Event{
		Type:     auditEventLogoutAll,
		Subject:  subject,
		Success:  true,
		Metadata: map[string]string{"revoked": fmt.Sprint(n)},
	})
	return nil
}
