package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrNetwork is returned when the request never produced an HTTP response.
	ErrNetwork = errors.New("network error")

	// ErrUnauthorized is returned when the credential is missing, expired or revoked.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is returned by Login when the backend rejects the username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrValidation is returned when the backend rejects the submitted input.
	ErrValidation = errors.New("validation error")

	// ErrForbidden is returned when the session's role may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the action clashes with the resource's current state.
	ErrConflict = errors.New("conflict")

	// ErrServer is returned for any other non-2xx status.
	ErrServer = errors.New("server error")

	// ErrMalformedResponse is returned when a success body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is a failed API call. Message is display-ready and comes from the
// backend whenever it supplied one.
type Error struct {
	Kind    error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

// kindForStatus maps an HTTP status onto the error taxonomy.
func kindForStatus(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return ErrServer
	}
}

func newStatusError(status int, body []byte) *Error {
	msg := extractMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: kindForStatus(status), Status: status, Message: msg}
}

func newNetworkError(err error) *Error {
	return &Error{Kind: ErrNetwork, Message: fmt.Sprintf("network error: %v", err)}
}

// messageKeys are checked in order before falling back to field errors.
var messageKeys = []string{"error", "detail", "message"}

// extractMessage pulls a human-readable message out of an error body. It
// understands {"error": "..."}, {"detail": "..."}, {"message": "..."},
// field error maps like {"ISBN": ["book with this ISBN already exists."]}
// and plain text.
func extractMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		var list []string
		if err := json.Unmarshal(body, &list); err == nil {
			return strings.Join(list, " ")
		}
		return text
	}

	for _, key := range messageKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if msg := flatten(obj[k]); msg != "" {
			if k == "non_field_errors" {
				parts = append(parts, msg)
			} else {
				parts = append(parts, k+": "+msg)
			}
		}
	}
	if len(parts) == 0 {
		return text
	}
	return strings.Join(parts, "; ")
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var parts []string
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
