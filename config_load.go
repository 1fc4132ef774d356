package authcore

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment prefix used by the CLIs.
const DefaultEnvPrefix = "AUTHCORE_"

// LoadConfig reads the configuration from environment variables over
// DefaultConfig and validates it. A double underscore separates nesting
// levels and the rest of the name is lowercased, so
// AUTHCORE_JWT__ACCESS_TTL=30m sets jwt.access_ttl.
func LoadConfig(prefix string) (Config, error) {
	cfg, err := ReadConfig(prefix)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig is LoadConfig without Validate. Tools that need only part of the
// configuration, such as the migrator, check what they use themselves.
func ReadConfig(prefix string) (Config, error) {
	k := koanf.New(".")

	err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}
