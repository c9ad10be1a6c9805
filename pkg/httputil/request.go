package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/denial"
)

// MaxBodyBytes caps request bodies decoded by ParseJSON
const MaxBodyBytes = 1 << 20

// ParseJSON decodes a JSON request body into dest. Malformed bodies,
// unknown fields and trailing data are reported as invalid requests.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return denial.InvalidRequest("httputil.parse", "request body is required")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return denial.InvalidRequest("httputil.parse", "request body is required")
		}
		return denial.InvalidRequest("httputil.parse", fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return denial.InvalidRequest("httputil.parse", "request body must contain a single JSON object")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes the denial on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(w, r, dest); err != nil {
		WriteDenial(w, err)
		return false
	}
	return true
}

// PathString extracts a required mux path variable
func PathString(r *http.Request, key string) (string, error) {
	val := mux.Vars(r)[key]
	if val == "" {
		return "", denial.InvalidRequest("httputil.path", "missing path parameter: "+key)
	}
	return val, nil
}
