// Package refresh owns refresh-token records, their wire encoding, and the
// stores that rotate them.
//
// # Token format
//
// A refresh token is "<record id>.<base64url(32-byte secret)>". Stores keep only
// the SHA-256 of the secret, so a leaked store cannot mint tokens.
//
// # Lifecycle
//
// Every record belongs to a family (one login). A record is Active until it is
// rotated exactly once into a successor, or until its family is revoked. At
// most one record per family is Active. Rotation is a compare-and-swap on the
// Active state: of any number of concurrent rotations of the same record,
// exactly one succeeds and the rest observe Rotated.
//
// Records are retained past their expiry so an expired or reused token can be
// told apart from one that never existed.
package refresh

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/careermate/authcore/refresh")
