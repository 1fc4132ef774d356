package account

import (
	"context"
	"log/slog"
	"strings"
)

// LogNotifier writes messages to a logger instead of delivering them. It is
// meant for local runs and the load-test tool.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the message with the recipient masked.
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "notification delivery (log-only)",
		slog.String("to", maskEmail(to)),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
