package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/careermate/authcore/keys"
)

// TokenType distinguishes bearer access tokens from password-reset authorizations.
type TokenType string

const (
	TypeAccess TokenType = "access"
	TypeReset  TokenType = "reset"
)

var (
	// ErrMalformed is returned when a token does not parse or lacks required claims.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrInvalidSignature is returned when the signature, algorithm or key id does not verify.
	ErrInvalidSignature = errors.New("jwt: invalid signature")
)

// Config fixes the issuer and audience stamped on and required of every token.
type Config struct {
	Issuer   string
	Audience string
}

// Claims is the decoded claim set. IssuedAt and ExpiresAt are carried as
// ordinary claims and never re-derived.
type Claims struct {
	ID        string
	Subject   string
	Scope     string
	FamilyID  string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  []string
	KeyID     string
}

type wireClaims struct {
	Scope    string `json:"scope,omitempty"`
	FamilyID string `json:"fid,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens with keys from a keys.Provider.
//
// Manager is safe for concurrent use.
type Manager struct {
	keys   keys.Provider
	config Config
	parser *jwt.Parser
}

// NewManager validates the configuration and returns a codec.
func NewManager(provider keys.Provider, cfg Config) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("jwt: key provider is required")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)

	return &Manager{
		keys:   provider,
		config: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue signs claims with the provider's current key. ID, Subject, Type,
// IssuedAt and ExpiresAt must be set by the caller.
func (m *Manager) Issue(ctx context.Context, c Claims) (string, error) {
	if c.ID == "" || c.Subject == "" || c.Type == "" {
		return "", errors.New("jwt: id, subject and type are required")
	}
	if c.IssuedAt.IsZero() || !c.ExpiresAt.After(c.IssuedAt) {
		return "", errors.New("jwt: expiry must be after issuance")
	}

	key, err := m.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("jwt: signing key: %w", err)
	}
	signKey, err := key.SignKey()
	if err != nil {
		return "", err
	}

	wc := wireClaims{
		Scope:    c.Scope,
		FamilyID: c.FamilyID,
		Type:     string(c.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   c.Subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if m.config.Audience != "" {
		wc.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(key.SigningMethod(), wc)
	token.Header["kid"] = key.ID

	return token.SignedString(signKey)
}

// Decode verifies the signature and structure of a token. It fails with
// ErrInvalidSignature or ErrMalformed and does not look at expiry.
func (m *Manager) Decode(ctx context.Context, tokenStr string) (Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	var wc wireClaims
	token, err := m.parser.ParseWithClaims(tokenStr, &wc, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, err := m.keys.VerificationKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != key.Alg() {
			return nil, fmt.Errorf("algorithm %s does not match key %q", t.Method.Alg(), kid)
		}
		return key.VerifyKey(), nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidSignature
	}

	if wc.ID == "" || wc.Subject == "" || wc.Type == "" || wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing required claims", ErrMalformed)
	}
	if m.config.Issuer != "" && wc.Issuer != m.config.Issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer", ErrMalformed)
	}
	if m.config.Audience != "" && !containsAudience(wc.Audience, m.config.Audience) {
		return Claims{}, fmt.Errorf("%w: unexpected audience", ErrMalformed)
	}

	kid, _ := token.Header["kid"].(string)
	return Claims{
		ID:        wc.ID,
		Subject:   wc.Subject,
		Scope:     wc.Scope,
		FamilyID:  wc.FamilyID,
		Type:      TokenType(wc.Type),
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
		Issuer:    wc.Issuer,
		Audience:  []string(wc.Audience),
		KeyID:     kid,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
