package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/careermate/authcore/keys"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func hsProvider(t *testing.T, kid, secret string) *keys.Static {
	t.Helper()
	k, err := keys.HS256(kid, []byte(secret))
	if err != nil {
		t.Fatalf("hs256 key: %v", err)
	}
	p, err := keys.NewStatic(k)
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	return p
}

func newManager(t *testing.T, p keys.Provider) *Manager {
	t.Helper()
	m, err := NewManager(p, Config{Issuer: "authcore", Audience: "careermate-api"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func accessClaims() Claims {
	return Claims{
		ID:        "jti-1",
		Subject:   "a@x.com",
		Scope:     "ROLE_CANDIDATE",
		FamilyID:  "fam-1",
		Type:      TypeAccess,
		IssuedAt:  testNow,
		ExpiresAt: testNow.Add(15 * time.Minute),
	}
}

func TestIssueDecodeRoundTrip(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	tok, err := m.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	c, err := m.Decode(context.Background(), tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Subject != "a@x.com" || c.ID != "jti-1" || c.FamilyID != "fam-1" || c.Type != TypeAccess {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if !c.IssuedAt.Equal(testNow) || !c.ExpiresAt.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("timestamps not preserved: iat=%v exp=%v", c.IssuedAt, c.ExpiresAt)
	}
	if c.KeyID != "k1" {
		t.Fatalf("expected kid k1, got %q", c.KeyID)
	}
}

func TestDecodeDoesNotCheckExpiry(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	c := accessClaims()
	c.IssuedAt = time.Now().Add(-2 * time.Hour)
	c.ExpiresAt = time.Now().Add(-time.Hour)
	tok, err := m.Issue(context.Background(), c)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Decode(context.Background(), tok); err != nil {
		t.Fatalf("expired token should still decode: %v", err)
	}
}

func TestDecodeWrongKeyIsInvalidSignature(t *testing.T) {
	signer := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))
	verifier := newManager(t, hsProvider(t, "k1", "fedcba9876543210fedcba9876543210"))

	tok, err := signer.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = verifier.Decode(context.Background(), tok)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestDecodeTamperedPayloadIsInvalidSignature(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	tok, err := m.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := accessClaims()
	other.Subject = "admin@x.com"
	forged, err := m.Issue(context.Background(), other)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(tok, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = m.Decode(context.Background(), spliced)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestDecodeGarbageIsMalformed(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	for _, in := range []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.%%%.sig"} {
		_, err := m.Decode(context.Background(), in)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", in, err)
		}
		if errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("input %q: must not also be ErrInvalidSignature", in)
		}
	}
}

func TestDecodeRejectsAlgNone(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	tok := gjwt.NewWithClaims(gjwt.SigningMethodNone, gjwt.MapClaims{"sub": "a@x.com", "jti": "x", "typ": "access"})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	_, err = m.Decode(context.Background(), s)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for alg none, got %v", err)
	}
}

func TestDecodeRejectsAlgorithmKeyMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	edKey, err := keys.Ed25519("ed", priv, nil)
	if err != nil {
		t.Fatalf("ed key: %v", err)
	}
	p, err := keys.NewStatic(edKey)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	m := newManager(t, p)

	// HS256 keyed with the public key bytes must not be accepted for an EdDSA kid.
	wc := wireClaims{Type: "access", RegisteredClaims: gjwt.RegisteredClaims{ID: "x", Subject: "a@x.com"}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wc)
	tok.Header["kid"] = "ed"
	s, err := tok.SignedString([]byte(pub))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = m.Decode(context.Background(), s)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestDecodeUnknownKidIsInvalidSignature(t *testing.T) {
	signer := newManager(t, hsProvider(t, "k-old", "0123456789abcdef0123456789abcdef"))
	verifier := newManager(t, hsProvider(t, "k-new", "0123456789abcdef0123456789abcdef"))

	tok, err := signer.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Decode(context.Background(), tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestDecodeAfterRotationStillVerifiesOldKid(t *testing.T) {
	p := hsProvider(t, "k1", "0123456789abcdef0123456789abcdef")
	m := newManager(t, p)

	old, err := m.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	k2, err := keys.HS256("k2", []byte("fedcba9876543210fedcba9876543210"))
	if err != nil {
		t.Fatalf("k2: %v", err)
	}
	if err := p.Rotate(k2); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	fresh, err := m.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c, err := m.Decode(context.Background(), fresh)
	if err != nil || c.KeyID != "k2" {
		t.Fatalf("fresh token: kid=%q err=%v", c.KeyID, err)
	}
	if _, err := m.Decode(context.Background(), old); err != nil {
		t.Fatalf("old token should verify after rotation: %v", err)
	}
}

func TestDecodeIssuerMismatchIsMalformed(t *testing.T) {
	p := hsProvider(t, "k1", "0123456789abcdef0123456789abcdef")
	other, err := NewManager(p, Config{Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := other.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m := newManager(t, p)
	if _, err := m.Decode(context.Background(), tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeEd25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	k, err := keys.Ed25519("ed-1", priv, nil)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	p, err := keys.NewStatic(k)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	m := newManager(t, p)

	tok, err := m.Issue(context.Background(), accessClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Decode(context.Background(), tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestIssueRejectsIncompleteClaims(t *testing.T) {
	m := newManager(t, hsProvider(t, "k1", "0123456789abcdef0123456789abcdef"))

	c := accessClaims()
	c.ID = ""
	if _, err := m.Issue(context.Background(), c); err == nil {
		t.Fatal("expected error for missing jti")
	}

	c = accessClaims()
	c.ExpiresAt = c.IssuedAt
	if _, err := m.Issue(context.Background(), c); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}
