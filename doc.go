// Package authcore is the authentication and credential-lifecycle core of the
// platform: it issues and verifies access tokens, rotates refresh tokens with
// reuse detection, denylists revoked access tokens and runs the passcode
// based password reset.
//
// # Usage
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithAccountStore(accounts).
//		WithNotifier(mailer).
//		Build()
//	if err != nil { ... }
//	defer engine.Close()
//
//	pair, err := engine.Authenticate(ctx, email, password)
//
// # Refresh tokens
//
// Every login starts a refresh family. A refresh token can be exchanged once;
// presenting it again, or any other non-active member of its family, revokes
// the whole family and fails with [ErrTokenReuseDetected]. Of several
// concurrent exchanges of the same token exactly one succeeds.
//
// # Password reset
//
// [Engine.RequestReset] answers the same way whether or not the account
// exists. [Engine.VerifyOTP] turns a passcode into a short-lived reset
// authorization that [Engine.ChangePasswordWithAuthorization] redeems once.
//
// # Errors
//
// Public failures are the sentinels in errors.go. Component causes are
// wrapped alongside them, so errors.Is matches both the sentinel and, for
// example, jwt.ErrInvalidSignature.
package authcore
