package skillswap

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error taxonomy
// ============================================================================

// ErrorKind classifies failures so callers can pick a user-facing message.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindUnauthorized ErrorKind = "unauthorized"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindServer       ErrorKind = "server"
	KindDecode       ErrorKind = "decode"
)

// APIError represents a failed call against the marketplace backend.
//
// Details carries the server error body verbatim for validation failures;
// the SDK does not reinterpret it.
type APIError struct {
	Kind    ErrorKind      `json:"kind"`
	Status  int            `json:"status,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func networkError(err error) *APIError {
	return &APIError{
		Kind:    KindNetwork,
		Code:    "NETWORK_ERROR",
		Message: "could not reach the server, check that the backend is running and reachable",
		Err:     err,
	}
}

func invalidInput(message string, err error) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    "INVALID_INPUT",
		Message: message,
		Err:     err,
	}
}

// statusError maps a non-2xx response to an APIError. body is the decoded
// JSON error payload, or nil when the server sent none.
func statusError(status int, body map[string]any) *APIError {
	e := &APIError{Status: status, Details: body}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind, e.Code = KindUnauthorized, "UNAUTHORIZED"
	case status == http.StatusForbidden:
		e.Kind, e.Code = KindForbidden, "FORBIDDEN"
	case status == http.StatusNotFound:
		e.Kind, e.Code = KindNotFound, "NOT_FOUND"
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		e.Kind, e.Code = KindValidation, "VALIDATION_ERROR"
	default:
		e.Kind, e.Code = KindServer, "SERVER_ERROR"
	}

	e.Message = errorMessage(body)
	if e.Message == "" {
		if e.Kind == KindUnauthorized {
			e.Message = "Unauthorized"
		} else {
			e.Message = fmt.Sprintf("HTTP error! status: %d", status)
		}
	}
	return e
}

// errorMessage picks the human readable part of a backend error body.
func errorMessage(body map[string]any) string {
	for _, key := range []string{"message", "detail", "error"} {
		if s := strOr(body, key, ""); s != "" {
			return s
		}
	}
	switch v := body["non_field_errors"].(type) {
	case string:
		if v != "" {
			return v
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	if errs, ok := body["errors"]; ok && errs != nil {
		return fmt.Sprint(errs)
	}
	return ""
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// IsNetwork reports whether err is a connectivity failure.
func IsNetwork(err error) bool { return IsKind(err, KindNetwork) }

// IsUnauthorized reports whether the backend rejected the credentials.
func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }

// IsValidation reports whether the backend (or local pre-checks) rejected the input.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }
