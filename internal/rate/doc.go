// Package rate is the Redis fixed-window counter that the domain limiters in
// internal/limiters are built on.
//
// The first hit of a window INCRs the key and sets its expiry to the window
// length; later hits only INCR. A window therefore starts at the first
// request, not on a wall-clock boundary.
package rate
