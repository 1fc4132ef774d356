// Package keys holds the key material used to sign and verify access tokens.
//
// A Provider exposes exactly one current signing key and any number of
// verification keys addressed by key id, so keys can be rotated without
// invalidating tokens that are still in flight.
package keys

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Method names a supported signing algorithm.
type Method string

const (
	MethodHS256   Method = "hs256"
	MethodEd25519 Method = "ed25519"
)

const minHMACSecret = 32

var (
	ErrNoSigningKey = errors.New("keys: no signing key available")
	ErrUnknownKeyID = errors.New("keys: unknown key id")
	ErrInvalidKey   = errors.New("keys: invalid key material")
)

// Provider supplies the current signing key and verification keys by id.
type Provider interface {
	SigningKey(ctx context.Context) (Key, error)
	VerificationKey(ctx context.Context, kid string) (Key, error)
}

// Key is one entry of key material. HS256 keys use Secret for both signing and
// verification; Ed25519 keys sign with PrivateKey and verify with PublicKey.
// A verification-only Ed25519 key has no PrivateKey.
type Key struct {
	ID         string
	Method     Method
	Secret     []byte
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// HS256 builds a symmetric key.
func HS256(id string, secret []byte) (Key, error) {
	k := Key{ID: id, Method: MethodHS256, Secret: append([]byte(nil), secret...)}
	return k, k.Validate()
}

// Ed25519 builds an asymmetric key from raw or PEM encoded material. priv may be
// empty for a verification-only key; pub is derived from priv when empty.
func Ed25519(id string, priv, pub []byte) (Key, error) {
	k := Key{ID: id, Method: MethodEd25519}
	if len(priv) > 0 {
		p, err := parseEdPrivateKey(priv)
		if err != nil {
			return Key{}, err
		}
		k.PrivateKey = p
		k.PublicKey = p.Public().(ed25519.PublicKey)
	}
	if len(pub) > 0 {
		p, err := parseEdPublicKey(pub)
		if err != nil {
			return Key{}, err
		}
		k.PublicKey = p
	}
	return k, k.Validate()
}

// Validate reports whether the key can at least verify tokens.
func (k Key) Validate() error {
	if strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("%w: empty key id", ErrInvalidKey)
	}
	switch k.Method {
	case MethodHS256:
		if len(k.Secret) < minHMACSecret {
			return fmt.Errorf("%w: hs256 secret for %q shorter than %d bytes", ErrInvalidKey, k.ID, minHMACSecret)
		}
	case MethodEd25519:
		if len(k.PublicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: ed25519 key %q has no public key", ErrInvalidKey, k.ID)
		}
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidKey, k.Method)
	}
	return nil
}

// CanSign reports whether the key carries signing material.
func (k Key) CanSign() bool {
	switch k.Method {
	case MethodHS256:
		return len(k.Secret) > 0
	case MethodEd25519:
		return len(k.PrivateKey) == ed25519.PrivateKeySize
	}
	return false
}

// Alg returns the JWS "alg" header value for the key.
func (k Key) Alg() string {
	if k.Method == MethodEd25519 {
		return jwt.SigningMethodEdDSA.Alg()
	}
	return jwt.SigningMethodHS256.Alg()
}

// SigningMethod returns the jwt signing method for the key.
func (k Key) SigningMethod() jwt.SigningMethod {
	if k.Method == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

// SignKey returns the value jwt expects when signing.
func (k Key) SignKey() (any, error) {
	if !k.CanSign() {
		return nil, fmt.Errorf("%w: %q", ErrNoSigningKey, k.ID)
	}
	if k.Method == MethodEd25519 {
		return k.PrivateKey, nil
	}
	return k.Secret, nil
}

// VerifyKey returns the value jwt expects when verifying.
func (k Key) VerifyKey() any {
	if k.Method == MethodEd25519 {
		return k.PublicKey
	}
	return k.Secret
}

// Static is an in-memory Provider. It is safe for concurrent use and supports
// rotation: rotated-out keys stay available for verification until retired.
type Static struct {
	mu      sync.RWMutex
	current Key
	verify  map[string]Key
}

// NewStatic creates a Static provider signing with current and additionally
// verifying with previous.
func NewStatic(current Key, previous ...Key) (*Static, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}
	if !current.CanSign() {
		return nil, fmt.Errorf("%w: %q", ErrNoSigningKey, current.ID)
	}

	s := &Static{current: current, verify: make(map[string]Key, len(previous)+1)}
	s.verify[current.ID] = current
	for _, k := range previous {
		if err := k.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.verify[k.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate key id %q", ErrInvalidKey, k.ID)
		}
		s.verify[k.ID] = k
	}
	return s, nil
}

// SigningKey returns the current signing key.
func (s *Static) SigningKey(context.Context) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.CanSign() {
		return Key{}, ErrNoSigningKey
	}
	return s.current, nil
}

// VerificationKey returns the key registered under kid.
func (s *Static) VerificationKey(_ context.Context, kid string) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.verify[kid]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	return k, nil
}

// Rotate makes next the signing key. The previous key keeps verifying.
func (s *Static) Rotate(next Key) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if !next.CanSign() {
		return fmt.Errorf("%w: %q", ErrNoSigningKey, next.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	s.verify[next.ID] = next
	return nil
}

// Retire removes a verification key. The current signing key cannot be retired.
func (s *Static) Retire(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kid == s.current.ID {
		return fmt.Errorf("%w: cannot retire current key %q", ErrInvalidKey, kid)
	}
	delete(s.verify, kid)
	return nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 private key", ErrInvalidKey)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: ed25519 private key type", ErrInvalidKey)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 public key", ErrInvalidKey)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: ed25519 public key type", ErrInvalidKey)
	}
	return edKey, nil
}

var _ Provider = (*Static)(nil)
