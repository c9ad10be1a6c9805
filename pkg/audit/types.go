package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthRegister    EventType = "auth.register"
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Guard chain events
	EventTypeGuardAllowed EventType = "guard.allowed"
	EventTypeGuardDenied  EventType = "guard.denied"

	// Quota events
	EventTypeQuotaExceeded EventType = "quota.exceeded"
	EventTypeQuotaReleased EventType = "quota.released"

	// Rate limiter events
	EventTypeRateLimited EventType = "ratelimit.limited"

	// Admin events
	EventTypeAdminDeactivate EventType = "admin.identity_deactivate"
	EventTypeAdminReactivate EventType = "admin.identity_reactivate"
	EventTypeAdminPlanChange EventType = "admin.plan_change"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor. Empty for anonymous callers.
	IdentityID string `json:"identity_id,omitempty"`
	Role       string `json:"role,omitempty"`

	// What was attempted
	Action       string `json:"action,omitempty"`
	ResourceKind string `json:"resource_kind,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Why it was refused, when it was
	DenialKind string `json:"denial_kind,omitempty"`
	Check      string `json:"check,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter narrows DBLogger.Search results. Zero fields match all.
type SearchFilter struct {
	IdentityID string
	EventTypes []EventType
	Status     EventStatus
	ResourceID string
	Since      time.Time
	Limit      int
}
