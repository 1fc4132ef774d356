package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	secretSize   = 32
	maxIDLength  = 128
	separator    = "."
	encodedBytes = 43
)

// ErrMalformedToken is returned by ParseToken for anything that is not
// "<id>.<secret>".
var ErrMalformedToken = errors.New("refresh: malformed token")

// Secret is the random half of a refresh token.
type Secret [secretSize]byte

// NewSecret reads a fresh secret from crypto/rand.
func NewSecret() (Secret, error) {
	var s Secret
	_, err := rand.Read(s[:])
	return s, err
}

// Hash returns the value persisted for s.
func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeToken renders the wire form of a refresh token.
func EncodeToken(id string, s Secret) string {
	return id + separator + base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseToken splits a wire token into its record id and secret.
func ParseToken(token string) (string, Secret, error) {
	var s Secret

	id, enc, ok := strings.Cut(token, separator)
	if !ok || id == "" || len(id) > maxIDLength || len(enc) != encodedBytes {
		return "", s, ErrMalformedToken
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(enc)
	if err != nil || len(raw) != secretSize {
		return "", s, ErrMalformedToken
	}

	copy(s[:], raw)
	return id, s, nil
}
