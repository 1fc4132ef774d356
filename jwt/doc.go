// Package jwt encodes and decodes signed access and reset tokens.
//
// The codec only proves that a token is well formed and was signed by a known
// key. Expiry and revocation are left to the engine, which owns the clock and
// the denylist.
package jwt
