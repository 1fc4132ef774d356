package authcore

import (
	"io"
	"log/slog"

	"github.com/careermate/authcore/internal/audit"
)

type (
	// AuditEvent is one audit record.
	AuditEvent = audit.Event
	// AuditSink receives audit events from the engine's dispatcher goroutine.
	AuditSink = audit.Sink
	// NoOpAuditSink drops every event.
	NoOpAuditSink = audit.NoOpSink
	// ChannelAuditSink exposes events on a channel, mostly for tests.
	ChannelAuditSink = audit.ChannelSink
)

// NewChannelAuditSink returns a sink buffering up to buffer events.
func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink writes one JSON object per event to w.
func NewJSONWriterAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogAuditSink logs events; failed events at WARN.
func NewSlogAuditSink(logger *slog.Logger) AuditSink {
	return audit.NewSlogSink(logger)
}
