// Package awssm loads signing keys from AWS Secrets Manager.
//
// The secret is a JSON document:
//
//	{
//	  "current": "2026-01",
//	  "keys": [
//	    {"kid": "2025-12", "method": "hs256", "secret": "<base64>"},
//	    {"kid": "2026-01", "method": "ed25519", "private_key": "<PEM>"}
//	  ]
//	}
//
// The secret is read eagerly at construction; the provider must not start without
// a signing key. It is re-read when the cache TTL elapses and, at most once per
// cooldown, when a token names an unknown kid.
package awssm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/keys"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultKidCooldown = 30 * time.Second
)

// ErrSecretFormat is returned when the secret document cannot be used.
var ErrSecretFormat = errors.New("awssm: invalid key secret")

// smClient is the narrow Secrets Manager surface the provider needs.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Options tunes caching. Zero values use defaults.
type Options struct {
	CacheTTL    time.Duration
	KidCooldown time.Duration
	Clock       clock.Clock
}

// Provider implements keys.Provider over a Secrets Manager secret.
type Provider struct {
	sm       smClient
	secretID string
	clock    clock.Clock

	cacheTTL    time.Duration
	kidCooldown time.Duration

	mu             sync.RWMutex
	current        keys.Key
	verify         map[string]keys.Key
	loadedAt       time.Time
	lastKidRefresh time.Time
}

type secretDoc struct {
	Current string      `json:"current"`
	Keys    []secretKey `json:"keys"`
}

type secretKey struct {
	KID        string `json:"kid"`
	Method     string `json:"method"`
	Secret     string `json:"secret,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
}

// NewFromConfig builds a Secrets Manager client from the default AWS config chain.
func NewFromConfig(ctx context.Context, secretID string, opts Options) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("awssm: load aws config: %w", err)
	}
	return New(ctx, secretsmanager.NewFromConfig(cfg), secretID, opts)
}

// New loads the secret once and returns a ready provider.
func New(ctx context.Context, sm smClient, secretID string, opts Options) (*Provider, error) {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.KidCooldown <= 0 {
		opts.KidCooldown = defaultKidCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	p := &Provider{
		sm:          sm,
		secretID:    secretID,
		clock:       opts.Clock,
		cacheTTL:    opts.CacheTTL,
		kidCooldown: opts.KidCooldown,
	}
	if err := p.reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// SigningKey returns the current signing key, re-reading the secret when the
// cache is stale. A failed refresh keeps serving the cached key.
func (p *Provider) SigningKey(ctx context.Context) (keys.Key, error) {
	if p.stale() {
		_ = p.reload(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.current.CanSign() {
		return keys.Key{}, keys.ErrNoSigningKey
	}
	return p.current, nil
}

// VerificationKey returns the key for kid. Unknown kids trigger one refresh per
// cooldown window so a freshly rotated key is picked up without waiting for the TTL.
func (p *Provider) VerificationKey(ctx context.Context, kid string) (keys.Key, error) {
	if p.stale() {
		_ = p.reload(ctx)
	}

	if k, ok := p.lookup(kid); ok {
		return k, nil
	}

	p.mu.Lock()
	now := p.clock.Now()
	if now.Sub(p.lastKidRefresh) <= p.kidCooldown {
		p.mu.Unlock()
		return keys.Key{}, fmt.Errorf("%w: %q (cooldown active)", keys.ErrUnknownKeyID, kid)
	}
	p.lastKidRefresh = now
	p.mu.Unlock()

	if err := p.reload(ctx); err != nil {
		return keys.Key{}, err
	}
	if k, ok := p.lookup(kid); ok {
		return k, nil
	}
	return keys.Key{}, fmt.Errorf("%w: %q", keys.ErrUnknownKeyID, kid)
}

func (p *Provider) lookup(kid string) (keys.Key, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k, ok := p.verify[kid]
	return k, ok
}

func (p *Provider) stale() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clock.Now().Sub(p.loadedAt) > p.cacheTTL
}

func (p *Provider) reload(ctx context.Context) error {
	out, err := p.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return fmt.Errorf("awssm: get secret %q: %w", p.secretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("%w: secret %q has no string value", ErrSecretFormat, p.secretID)
	}

	current, verify, err := parseSecret(*out.SecretString)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.verify = verify
	p.loadedAt = p.clock.Now()
	return nil
}

func parseSecret(raw string) (keys.Key, map[string]keys.Key, error) {
	var doc secretDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return keys.Key{}, nil, fmt.Errorf("%w: %v", ErrSecretFormat, err)
	}
	if doc.Current == "" || len(doc.Keys) == 0 {
		return keys.Key{}, nil, fmt.Errorf("%w: missing current or keys", ErrSecretFormat)
	}

	verify := make(map[string]keys.Key, len(doc.Keys))
	for _, sk := range doc.Keys {
		k, err := sk.toKey()
		if err != nil {
			return keys.Key{}, nil, err
		}
		verify[k.ID] = k
	}

	current, ok := verify[doc.Current]
	if !ok {
		return keys.Key{}, nil, fmt.Errorf("%w: current kid %q not in keys", ErrSecretFormat, doc.Current)
	}
	if !current.CanSign() {
		return keys.Key{}, nil, fmt.Errorf("%w: current kid %q", keys.ErrNoSigningKey, doc.Current)
	}
	return current, verify, nil
}

func (sk secretKey) toKey() (keys.Key, error) {
	switch keys.Method(sk.Method) {
	case keys.MethodHS256:
		secret, err := base64.StdEncoding.DecodeString(sk.Secret)
		if err != nil {
			return keys.Key{}, fmt.Errorf("%w: kid %q secret is not base64", ErrSecretFormat, sk.KID)
		}
		return keys.HS256(sk.KID, secret)
	case keys.MethodEd25519:
		return keys.Ed25519(sk.KID, []byte(sk.PrivateKey), []byte(sk.PublicKey))
	default:
		return keys.Key{}, fmt.Errorf("%w: kid %q has unsupported method %q", ErrSecretFormat, sk.KID, sk.Method)
	}
}

var _ keys.Provider = (*Provider)(nil)
