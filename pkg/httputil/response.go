package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/platinummonkey/warden/pkg/denial"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every refused request
type ErrorResponse struct {
	Error string              `json:"error"`
	Code  denial.Kind         `json:"code,omitempty"`
	Quota *denial.QuotaDetail `json:"quota,omitempty"`
	// RetryAfter is in whole seconds
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteDenial maps err onto its HTTP status and a body that never leaks
// internal causes. Errors that are not denials are reported as internal.
func WriteDenial(w http.ResponseWriter, err error) {
	kind := denial.KindOf(err)
	if kind == "" {
		kind = denial.KindInternal
	}

	resp := ErrorResponse{
		Error: denial.PublicMessage(err),
		Code:  kind,
	}

	if d, ok := denial.As(err); ok {
		if d.Quota != nil && kind == denial.KindQuotaExceeded {
			detail := *d.Quota
			resp.Quota = &detail
		}
		if d.RetryAfter > 0 {
			secs := int64(math.Ceil(d.RetryAfter.Seconds()))
			resp.RetryAfter = secs
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}

	if kind == denial.KindUnauthenticated || kind == denial.KindInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	}

	_ = WriteJSON(w, denial.HTTPStatus(kind), resp)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
