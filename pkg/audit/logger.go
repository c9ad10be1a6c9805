package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
	Close() error
}

type contextKey string

const auditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, auditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(auditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOp()
}

// NoOp returns a logger that discards every event
func NoOp() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// NewEvent builds an event stamped with the current time and the request
// and identity IDs carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Status:     status,
		IdentityID: observability.GetIdentityID(ctx),
		RequestID:  observability.GetRequestID(ctx),
	}
}
