// Package logging builds the structured logger used by the auth core and its
// tools. Attributes whose keys look like credentials are redacted before they
// reach the handler.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// Config selects the level and output format.
type Config struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// sensitiveKeys are matched case-insensitively as substrings of attribute keys.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"otp",
	"code",
	"authorization",
	"private",
	"_key",
}

// New returns a logger writing to w. Unknown levels fall back to info and
// unknown formats to JSON.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if Sensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Sensitive reports whether an attribute key names credential material.
func Sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, p := range sensitiveKeys {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// SecretString is a string that never prints its value.
type SecretString string

func (s SecretString) String() string { return Redacted }

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(Redacted) }

// Expose returns the underlying value.
func (s SecretString) Expose() string { return string(s) }

var _ slog.LogValuer = SecretString("")
