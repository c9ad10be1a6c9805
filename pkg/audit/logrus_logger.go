package audit

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as JSON lines, one per event
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a JSON line audit sink on out
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	logger.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{logger: logger}
}

// Log writes event. Denials are written at warn level.
func (l *LogrusLogger) Log(_ context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	addField(fields, "identity_id", event.IdentityID)
	addField(fields, "role", event.Role)
	addField(fields, "action", event.Action)
	addField(fields, "resource_kind", event.ResourceKind)
	addField(fields, "resource_id", event.ResourceID)
	addField(fields, "denial_kind", event.DenialKind)
	addField(fields, "check", event.Check)
	addField(fields, "ip_address", event.IPAddress)
	addField(fields, "request_id", event.RequestID)
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusDenied || event.Status == EventStatusFailure {
		entry.Warn(event.Message)
	} else {
		entry.Info(event.Message)
	}
	return nil
}

// Close is a no-op; the writer belongs to the caller
func (l *LogrusLogger) Close() error {
	return nil
}

func addField(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
