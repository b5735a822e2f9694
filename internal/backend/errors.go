package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	textutil "archivist/pkg/strings"
)

// maxDetailLength caps, in runes, how much of an unstructured error body is
// kept.
const maxDetailLength = 256

// StatusError is returned when the archive API answers with a non-2xx status.
type StatusError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Detail is the server's error message, if any.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("archive API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("archive API returned %d: %s", e.StatusCode, e.Detail)
}

// IsAuthorizationFailure reports whether the status means the credentials
// were rejected (401 or 403).
func (e *StatusError) IsAuthorizationFailure() bool {
	return IsAuthorizationStatus(e.StatusCode)
}

// IsAuthorizationStatus reports whether code is 401 or 403.
func IsAuthorizationStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsAuthorizationFailure reports whether err carries a 401/403 StatusError.
func IsAuthorizationFailure(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsAuthorizationFailure()
}

// newStatusError builds a StatusError from an error response body. The API
// reports errors as {"detail": "..."}; validation errors carry a list.
func newStatusError(code int, body []byte) *StatusError {
	se := &StatusError{StatusCode: code}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if json.Unmarshal(payload.Detail, &text) == nil {
			se.Detail = text
			return se
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(payload.Detail, &items) == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			se.Detail = strings.Join(msgs, "; ")
			return se
		}
	}

	se.Detail = textutil.Truncate(string(body), maxDetailLength)
	return se
}
