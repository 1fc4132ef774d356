package flows

import (
	"context"
	"fmt"

	"github.com/careermate/authcore/jwt"
)

// VerifyFailureKind classifies token verification failures.
type VerifyFailureKind int

const (
	VerifyFailureNone VerifyFailureKind = iota
	VerifyFailureDecode
	VerifyFailureType
	VerifyFailureExpired
	VerifyFailureRevoked
	VerifyFailureStore
)

type VerifyResult struct {
	Failure VerifyFailureKind
	Err     error
	Claims  jwt.Claims
}

// RunVerify decodes token, requires the wanted type, checks expiry with the
// configured leeway and then the denylist. A denylist failure is reported as
// VerifyFailureStore and must be treated as a rejection.
func RunVerify(ctx context.Context, token string, want jwt.TokenType, d TokenDeps) VerifyResult {
	claims, err := d.Codec.Decode(ctx, token)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureDecode, Err: err}
	}
	if claims.Type != want {
		return VerifyResult{
			Failure: VerifyFailureType,
			Err:     fmt.Errorf("%w: token type %q, want %q", jwt.ErrMalformed, claims.Type, want),
			Claims:  claims,
		}
	}
	if d.Now().After(claims.ExpiresAt.Add(d.Leeway)) {
		return VerifyResult{Failure: VerifyFailureExpired, Claims: claims}
	}

	revoked, err := d.Revocation.IsRevoked(ctx, claims.ID)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureStore, Err: err, Claims: claims}
	}
	if revoked {
		return VerifyResult{Failure: VerifyFailureRevoked, Claims: claims}
	}
	return VerifyResult{Claims: claims}
}
