// Package limiters holds the domain throttles of the auth core, each a thin
// policy over an internal/rate counter with its own key namespace.
//
// All limiters are nil-safe: a nil receiver allows everything.
package limiters
