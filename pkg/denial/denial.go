package denial

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies why a request was refused.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindInvalidToken       Kind = "invalid_token"
	KindAccountDeactivated Kind = "account_deactivated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindRateLimited        Kind = "rate_limited"
	KindInvalidRequest     Kind = "invalid_request"
	KindInternal           Kind = "internal"
)

// QuotaDetail describes a refused quota reservation.
type QuotaDetail struct {
	Kind      string `json:"kind"`
	Plan      string `json:"plan,omitempty"`
	Current   int64  `json:"current"`
	Limit     int64  `json:"limit"`
	Requested int64  `json:"requested"`
}

// Error is a refusal produced by one of the guard checks. Message is safe
// to show to the caller; Err carries the underlying cause for logs only.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Quota      *QuotaDetail
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessage(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, &denial.Error{Kind: denial.KindForbidden}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// New creates a denial with the given kind and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Unauthenticated reports a missing credential.
func Unauthenticated(op string) *Error {
	return &Error{Kind: KindUnauthenticated, Op: op}
}

// InvalidToken reports a credential that failed verification or names an
// identity that does not exist. Both cases share one message.
func InvalidToken(op string, cause error) *Error {
	return &Error{Kind: KindInvalidToken, Op: op, Err: cause}
}

// AccountDeactivated reports a verified identity whose account is disabled.
func AccountDeactivated(op string) *Error {
	return &Error{Kind: KindAccountDeactivated, Op: op}
}

// Forbidden reports a role or ownership refusal.
func Forbidden(op, message string) *Error {
	return &Error{Kind: KindForbidden, Op: op, Message: message}
}

// NotFound reports a missing target resource.
func NotFound(op, what string) *Error {
	msg := ""
	if what != "" {
		msg = what + " not found"
	}
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

// QuotaExceeded reports a plan limit refusal.
func QuotaExceeded(op string, detail QuotaDetail) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Op:      op,
		Message: fmt.Sprintf("plan limit reached for %s", detail.Kind),
		Quota:   &detail,
	}
}

// RateLimited reports a submission refused by the sliding window.
func RateLimited(op string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfter}
}

// InvalidRequest reports malformed caller input.
func InvalidRequest(op, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Message: message}
}

// Internal wraps an infrastructure failure. The cause never reaches the caller.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: cause}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var d *Error
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// KindOf returns the denial kind for err. Errors that are not denials are
// reported as KindInternal; nil yields the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if d, ok := As(err); ok {
		return d.Kind
	}
	return KindInternal
}

// Is reports whether err is a denial of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a denial kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated, KindInvalidToken:
		return http.StatusUnauthorized
	case KindAccountDeactivated, KindForbidden, KindQuotaExceeded:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to the caller.
func PublicMessage(err error) string {
	d, ok := As(err)
	if !ok || d.Kind == KindInternal {
		return defaultMessage(KindInternal)
	}
	if d.Message != "" {
		return d.Message
	}
	return defaultMessage(d.Kind)
}

func defaultMessage(kind Kind) string {
	switch kind {
	case KindUnauthenticated:
		return "no token provided"
	case KindInvalidToken:
		return "token is not valid"
	case KindAccountDeactivated:
		return "account is deactivated"
	case KindForbidden:
		return "access denied"
	case KindNotFound:
		return "resource not found"
	case KindQuotaExceeded:
		return "plan limit reached"
	case KindRateLimited:
		return "too many submissions, try again later"
	case KindInvalidRequest:
		return "invalid request"
	default:
		return "internal server error"
	}
}
