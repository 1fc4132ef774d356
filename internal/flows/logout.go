package flows

import (
	"context"
	"fmt"

	"github.com/careermate/authcore/jwt"
)

type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecode
	LogoutFailureStore
)

type LogoutResult struct {
	Failure LogoutFailureKind
	Err     error
	Claims  jwt.Claims
	Revoked int
}

// RunLogout denylists the access token until its own expiry and revokes the
// refresh family it names. Expiry is ignored so a just-expired token can
// still end its session. Repeating a logout is harmless.
func RunLogout(ctx context.Context, token string, d TokenDeps) LogoutResult {
	claims, err := d.Codec.Decode(ctx, token)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureDecode, Err: err}
	}
	if claims.Type != jwt.TypeAccess {
		return LogoutResult{
			Failure: LogoutFailureDecode,
			Err:     fmt.Errorf("%w: token type %q", jwt.ErrMalformed, claims.Type),
		}
	}

	if err := d.Revocation.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err, Claims: claims}
	}

	res := LogoutResult{Claims: claims}
	if claims.FamilyID != "" {
		n, err := d.Refresh.RevokeFamily(ctx, claims.FamilyID)
		if err != nil {
			return LogoutResult{Failure: LogoutFailureStore, Err: err, Claims: claims}
		}
		res.Revoked = n
	}
	return res
}

// RunLogoutAll revokes every refresh family of subject. Access tokens already
// issued stay valid until they expire.
func RunLogoutAll(ctx context.Context, subject string, d TokenDeps) (int, error) {
	return d.Refresh.RevokeSubject(ctx, subject)
}
