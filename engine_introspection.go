package authcore

import "context"

// Introspect reports whether token is a usable access token. It never says
// why a token is inactive; a backend failure reports it inactive.
func (e *Engine) Introspect(ctx context.Context, token string) Introspection {
	claims, err := e.VerifyAccessToken(ctx, token)
	if err != nil {
		return Introspection{}
	}
	return Introspection{Active: true, Claims: &claims}
}
