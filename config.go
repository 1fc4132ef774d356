package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careermate/authcore/internal/audit"
	"github.com/careermate/authcore/keys"
	"github.com/careermate/authcore/keys/awssm"
	"github.com/careermate/authcore/logging"
	"github.com/careermate/authcore/metrics"
	"github.com/careermate/authcore/password"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Key sources.
const (
	KeySourceStatic = "static"
	KeySourceAWSSM  = "awssm"
)

// Config is the full engine configuration. Field tags are the koanf keys used
// by LoadConfig.
type Config struct {
	JWT           JWTConfig           `koanf:"jwt"`
	Refresh       RefreshConfig       `koanf:"refresh"`
	PasswordReset PasswordResetConfig `koanf:"reset"`
	Password      PasswordConfig      `koanf:"password"`
	Store         StoreConfig         `koanf:"store"`
	Audit         AuditConfig         `koanf:"audit"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Log           logging.Config      `koanf:"log"`
}

// JWTConfig configures access tokens and reset authorizations.
//
// Secret is used with SigningMethod hs256. PrivateKey and PublicKey hold raw
// or PEM Ed25519 material for ed25519. With KeySource awssm the key material
// is read from the Secrets Manager secret AWSSecretID instead.
type JWTConfig struct {
	Issuer        string               `koanf:"issuer"`
	Audience      string               `koanf:"audience"`
	AccessTTL     time.Duration        `koanf:"access_ttl"`
	Leeway        time.Duration        `koanf:"leeway"`
	SigningMethod string               `koanf:"signing_method"`
	KeyID         string               `koanf:"key_id"`
	Secret        logging.SecretString `koanf:"secret"`
	PrivateKey    logging.SecretString `koanf:"private_key"`
	PublicKey     string               `koanf:"public_key"`
	KeySource     string               `koanf:"key_source"`
	AWSSecretID   string               `koanf:"aws_secret_id"`
	AWSCacheTTL   time.Duration        `koanf:"aws_cache_ttl"`
}

// RefreshConfig configures refresh token lifetime. Retention keeps expired
// and rotated records readable so they classify as expired or reused rather
// than unknown.
type RefreshConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	Retention time.Duration `koanf:"retention"`
}

// PasswordResetConfig configures the passcode reset.
type PasswordResetConfig struct {
	OTPDigits              int           `koanf:"otp_digits"`
	OTPTTL                 time.Duration `koanf:"otp_ttl"`
	AuthorizationTTL       time.Duration `koanf:"authorization_ttl"`
	MaxAttempts            int           `koanf:"max_attempts"`
	RequestsPerWindow      int           `koanf:"requests_per_window"`
	Window                 time.Duration `koanf:"window"`
	MinResponse            time.Duration `koanf:"min_response"`
	RevealUnknownAccount   bool          `koanf:"reveal_unknown_account"`
	RevokeSessionsOnChange bool          `koanf:"revoke_sessions_on_change"`
	NotificationTimeout    time.Duration `koanf:"notification_timeout"`
}

// PasswordConfig holds argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	MinLength      int    `koanf:"min_length"`
	Memory         uint32 `koanf:"memory"`
	Time           uint32 `koanf:"time"`
	Parallelism    uint8  `koanf:"parallelism"`
	SaltLength     uint32 `koanf:"salt_length"`
	KeyLength      uint32 `koanf:"key_length"`
	UpgradeOnLogin bool   `koanf:"upgrade_on_login"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend          string               `koanf:"backend"`
	RedisAddr        string               `koanf:"redis_addr"`
	PostgresDSN      logging.SecretString `koanf:"postgres_dsn"`
	KeyPrefix        string               `koanf:"key_prefix"`
	OperationTimeout time.Duration        `koanf:"operation_timeout"`
}

type (
	AuditConfig   = audit.Config
	MetricsConfig = metrics.Config
)

// DefaultConfig returns the production defaults. JWT.Secret is empty and
// must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			Issuer:        "authcore",
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(keys.MethodHS256),
			KeyID:         "default",
			KeySource:     KeySourceStatic,
			AWSCacheTTL:   5 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:       7 * 24 * time.Hour,
			Retention: 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			OTPDigits:              6,
			OTPTTL:                 70 * time.Second,
			AuthorizationTTL:       5 * time.Minute,
			MaxAttempts:            5,
			RequestsPerWindow:      3,
			Window:                 15 * time.Minute,
			MinResponse:            150 * time.Millisecond,
			RevokeSessionsOnChange: true,
			NotificationTimeout:    10 * time.Second,
		},
		Password: PasswordConfig{
			MinLength:      pw.MinLength,
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			UpgradeOnLogin: true,
		},
		Store: StoreConfig{
			Backend:          BackendRedis,
			KeyPrefix:        "authcore:",
			OperationTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Latency: true,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
// Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return configError("jwt.access_ttl must be positive")
	}
	if c.JWT.Leeway < 0 {
		return configError("jwt.leeway must not be negative")
	}
	if c.JWT.Leeway >= c.JWT.AccessTTL {
		return configError("jwt.leeway must be shorter than jwt.access_ttl")
	}
	switch c.JWT.KeySource {
	case KeySourceStatic, "":
		switch keys.Method(strings.ToLower(c.JWT.SigningMethod)) {
		case keys.MethodHS256:
			if len(c.JWT.Secret.Expose()) < 32 {
				return configError("jwt.secret must be at least 32 bytes")
			}
		case keys.MethodEd25519:
			if c.JWT.PrivateKey.Expose() == "" {
				return configError("jwt.private_key is required for ed25519")
			}
		default:
			return configError("jwt.signing_method %q is not supported", c.JWT.SigningMethod)
		}
		if c.JWT.KeyID == "" {
			return configError("jwt.key_id must not be empty")
		}
	case KeySourceAWSSM:
		if c.JWT.AWSSecretID == "" {
			return configError("jwt.aws_secret_id is required for key_source awssm")
		}
	default:
		return configError("jwt.key_source %q is not supported", c.JWT.KeySource)
	}

	if c.Refresh.TTL <= 0 {
		return configError("refresh.ttl must be positive")
	}
	if c.Refresh.Retention < 0 {
		return configError("refresh.retention must not be negative")
	}

	r := c.PasswordReset
	if r.OTPDigits < 4 || r.OTPDigits > 10 {
		return configError("reset.otp_digits must be between 4 and 10")
	}
	if r.OTPTTL <= 0 || r.AuthorizationTTL <= 0 {
		return configError("reset.otp_ttl and reset.authorization_ttl must be positive")
	}
	if r.MaxAttempts <= 0 {
		return configError("reset.max_attempts must be positive")
	}
	if r.RequestsPerWindow < 0 {
		return configError("reset.requests_per_window must not be negative")
	}
	if r.RequestsPerWindow > 0 && r.Window <= 0 {
		return configError("reset.window must be positive when rate limiting is on")
	}
	if r.MinResponse < 0 || r.NotificationTimeout <= 0 {
		return configError("reset.min_response must not be negative and reset.notification_timeout must be positive")
	}

	if c.Password.MinLength < 1 {
		return configError("password.min_length must be positive")
	}
	if _, err := password.NewHasher(c.Password.hasherConfig()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Store.Backend {
	case BackendRedis, BackendPostgres:
	default:
		return configError("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Store.OperationTimeout <= 0 {
		return configError("store.operation_timeout must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configError("audit.buffer_size must be positive")
	}
	return nil
}

func (p PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
		MinLength:   p.MinLength,
	}
}

// NewKeyProvider builds the key provider described by cfg. The awssm source
// performs one Secrets Manager read under ctx.
func NewKeyProvider(ctx context.Context, cfg JWTConfig) (keys.Provider, error) {
	if cfg.KeySource == KeySourceAWSSM {
		p, err := awssm.NewFromConfig(ctx, cfg.AWSSecretID, awssm.Options{CacheTTL: cfg.AWSCacheTTL})
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var (
		key keys.Key
		err error
	)
	switch keys.Method(strings.ToLower(cfg.SigningMethod)) {
	case keys.MethodEd25519:
		key, err = keys.Ed25519(cfg.KeyID, []byte(cfg.PrivateKey.Expose()), []byte(cfg.PublicKey))
	default:
		key, err = keys.HS256(cfg.KeyID, []byte(cfg.Secret.Expose()))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	static, err := keys.NewStatic(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return static, nil
}
