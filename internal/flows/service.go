package flows

import (
	"context"

	"github.com/careermate/authcore/jwt"
)

// Service is the flow runner built once by the engine.
type Service struct {
	deps Deps
}

// New returns a service over immutable deps.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Tokens.Codec != nil && s.deps.Tokens.Refresh != nil
}

func (s Service) Login(ctx context.Context, email, password string) LoginResult {
	return RunLogin(ctx, email, password, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, token string) RefreshResult {
	return RunRefresh(ctx, token, s.deps.Tokens)
}

func (s Service) VerifyAccess(ctx context.Context, token string) VerifyResult {
	return RunVerify(ctx, token, jwt.TypeAccess, s.deps.Tokens)
}

func (s Service) Logout(ctx context.Context, token string) LogoutResult {
	return RunLogout(ctx, token, s.deps.Tokens)
}

func (s Service) LogoutAll(ctx context.Context, subject string) (int, error) {
	return RunLogoutAll(ctx, subject, s.deps.Tokens)
}

func (s Service) RequestReset(ctx context.Context, email string) ResetRequestResult {
	return RunRequestReset(ctx, email, s.deps.Reset)
}

func (s Service) VerifyOTP(ctx context.Context, email, code string) OTPResult {
	return RunVerifyOTP(ctx, email, code, s.deps.Reset)
}

func (s Service) ChangePassword(ctx context.Context, email, newPassword, repeatPassword string) ChangeResult {
	return RunChangePassword(ctx, email, newPassword, repeatPassword, s.deps.Reset)
}

func (s Service) ChangePasswordWithAuthorization(ctx context.Context, authorization, newPassword, repeatPassword string) ChangeResult {
	return RunChangePasswordWithAuthorization(ctx, authorization, newPassword, repeatPassword, s.deps.Reset)
}
