package authcore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/careermate/authcore/account"
	"github.com/careermate/authcore/clock"
	"github.com/careermate/authcore/ids"
	"github.com/careermate/authcore/internal/audit"
	"github.com/careermate/authcore/internal/flows"
	"github.com/careermate/authcore/internal/limiters"
	"github.com/careermate/authcore/jwt"
	"github.com/careermate/authcore/keys"
	"github.com/careermate/authcore/logging"
	"github.com/careermate/authcore/metrics"
	"github.com/careermate/authcore/otp"
	"github.com/careermate/authcore/password"
	"github.com/careermate/authcore/refresh"
	"github.com/careermate/authcore/revocation"
	"github.com/careermate/authcore/store/postgres"
	"github.com/redis/go-redis/v9"
)

// keyProviderTimeout bounds the key material read done by Build when no
// provider was supplied.
const keyProviderTimeout = 10 * time.Second

// dummyPassword is hashed once per engine so logins for unknown accounts cost
// one password verification like the others.
const dummyPassword = "authcore-dummy-password"

// Builder collects the engine dependencies. A Builder builds one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sql.DB

	accounts account.Store
	notifier account.Notifier
	keys     keys.Provider
	clock    clock.Clock
	ids      ids.Generator
	logger   *slog.Logger

	auditSink audit.Sink

	built bool
}

// New returns a builder with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client. It backs the stores when store.backend is
// redis and always backs the reset rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres sets the database used when store.backend is postgres. The
// schema must have been migrated with postgres.Migrate.
func (b *Builder) WithPostgres(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithAccountStore sets the account collaborator. Required.
func (b *Builder) WithAccountStore(s AccountStore) *Builder {
	b.accounts = s
	return b
}

// WithNotifier sets the passcode delivery collaborator. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithKeyProvider overrides the key material described by the JWT config.
func (b *Builder) WithKeyProvider(p keys.Provider) *Builder {
	b.keys = p
	return b
}

// WithClock overrides the wall clock. Tests pass a *clock.Fake.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithIDGenerator overrides the id and passcode generator.
func (b *Builder) WithIDGenerator(g ids.Generator) *Builder {
	b.ids = g
	return b
}

// WithLogger sets the logger. Without one the engine logs to stderr as
// configured by Config.Log.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go. Without one they are logged.
func (b *Builder) WithAuditSink(s AuditSink) *Builder {
	b.auditSink = s
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, configError("account store required")
	}
	if b.notifier == nil {
		return nil, configError("notifier required")
	}
	switch cfg.Store.Backend {
	case BackendRedis:
		if b.redis == nil {
			return nil, configError("redis client required for store backend redis")
		}
	case BackendPostgres:
		if b.db == nil {
			return nil, configError("database required for store backend postgres")
		}
	}

	logger := b.logger
	if logger == nil {
		logger = logging.New(cfg.Log, os.Stderr)
	}
	clk := b.clock
	if clk == nil {
		clk = clock.Real{}
	}
	gen := b.ids
	if gen == nil {
		gen = ids.Random{}
	}

	provider := b.keys
	if provider == nil {
		ctx, cancel := context.WithTimeout(context.Background(), keyProviderTimeout)
		p, err := NewKeyProvider(ctx, cfg.JWT)
		cancel()
		if err != nil {
			return nil, err
		}
		provider = p
	}
	codec, err := jwt.NewManager(provider, jwt.Config{Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		return nil, wrap(ErrInvalidConfig, err)
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	var (
		refreshes refresh.Store
		revoked   revocation.Store
		otps      otp.Store
	)
	switch cfg.Store.Backend {
	case BackendPostgres:
		refreshes = postgres.NewRefreshStore(b.db)
		revoked = postgres.NewRevocationStore(b.db, clk)
		otps = postgres.NewOTPStore(b.db)
	default:
		refreshes = refresh.NewRedisStore(b.redis, cfg.Store.KeyPrefix, cfg.Refresh.Retention)
		revoked = revocation.NewRedisStore(b.redis, cfg.Store.KeyPrefix, clk)
		otps = otp.NewRedisStore(b.redis, cfg.Store.KeyPrefix, cfg.PasswordReset.OTPTTL)
	}

	var limiter flows.ResetLimiter
	if b.redis != nil && cfg.PasswordReset.RequestsPerWindow > 0 {
		limiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
			KeyPrefix:         cfg.Store.KeyPrefix,
			RequestsPerWindow: cfg.PasswordReset.RequestsPerWindow,
			Window:            cfg.PasswordReset.Window,
		})
	} else if cfg.PasswordReset.RequestsPerWindow > 0 {
		logger.Warn("auth.reset_limiter_disabled", slog.String("reason", "no redis client"))
	}

	tokens := flows.TokenDeps{
		Now:        clk.Now,
		NewID:      gen.NewID,
		Codec:      codec,
		Refresh:    refreshes,
		Revocation: revoked,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.Refresh.TTL,
		Leeway:     cfg.JWT.Leeway,
	}
	deps := flows.Deps{
		Tokens: tokens,
		Login: flows.LoginDeps{
			Tokens:         tokens,
			Accounts:       b.accounts,
			Passwords:      hasher,
			DummyHash:      dummy,
			UpgradeOnLogin: cfg.Password.UpgradeOnLogin,
		},
		Reset: flows.ResetDeps{
			Tokens:    tokens,
			Accounts:  b.accounts,
			Passwords: hasher,
			OTPs:      otps,
			Limiter:   limiter,
			NewCode:   gen.NewCode,
			RateLimited: func(err error) bool {
				return errors.Is(err, limiters.ErrResetRateLimited)
			},
			OTPDigits:              cfg.PasswordReset.OTPDigits,
			OTPTTL:                 cfg.PasswordReset.OTPTTL,
			AuthorizationTTL:       cfg.PasswordReset.AuthorizationTTL,
			MaxAttempts:            cfg.PasswordReset.MaxAttempts,
			RevokeSessionsOnChange: cfg.PasswordReset.RevokeSessionsOnChange,
		},
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}

	b.built = true
	return &Engine{
		config:   cfg,
		flows:    flows.New(deps),
		clock:    clk,
		notifier: b.notifier,
		logger:   logger,
		audit:    audit.NewDispatcher(cfg.Audit, sink),
		metrics:  metrics.New(cfg.Metrics),
	}, nil
}
