// Package flows holds the orchestration behind every Engine operation as
// plain functions over dependency structs.
//
// A flow returns a result carrying a failure kind and the underlying error.
// Mapping kinds to public errors, metrics, audit events and log lines is the
// root package's job; flows never import it.
//
// Flows hold no state between calls and perform I/O only through their deps.
package flows
