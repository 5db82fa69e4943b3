package remote

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes returned by the document database.
const (
	CodeUnauthorized       = "unauthorized"
	CodeRestricted         = "restricted_resource"
	CodeNotFound           = "object_not_found"
	CodeRateLimited        = "rate_limited"
	CodeValidation         = "validation_error"
	CodeInvalidJSON        = "invalid_json"
	CodeInvalidRequest     = "invalid_request"
	CodeConflict           = "conflict_error"
	CodeInternal           = "internal_server_error"
	CodeServiceUnavailable = "service_unavailable"
	CodeGatewayTimeout     = "gateway_timeout"
	CodeNetwork            = "network_error"
)

// APIError is a structured error from a backend.
type APIError struct {
	Status  int
	Code    string
	Message string

	// Field names the offending property when the backend reports one.
	Field string

	// After is the server-requested delay before retrying.
	After time.Duration

	Err error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// RetryAfter implements retry.Hinter.
func (e *APIError) RetryAfter() time.Duration { return e.After }

// IsAuth reports an authentication or permission failure.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden ||
		e.Code == CodeUnauthorized || e.Code == CodeRestricted
}

// IsNotFound reports a missing object.
func (e *APIError) IsNotFound() bool {
	return e.Status == http.StatusNotFound || e.Code == CodeNotFound
}

// IsValidation reports a rejected request body or schema mismatch.
func (e *APIError) IsValidation() bool {
	if e.Code == CodeValidation || e.Code == CodeInvalidJSON || e.Code == CodeInvalidRequest {
		return true
	}
	return e.Status == http.StatusBadRequest
}

// IsTransient reports network failures, rate limits, conflicts and 5xx
// responses.
func (e *APIError) IsTransient() bool {
	switch e.Code {
	case CodeNetwork, CodeRateLimited, CodeConflict, CodeInternal, CodeServiceUnavailable, CodeGatewayTimeout:
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusConflict || e.Status >= 500
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// NetworkError wraps a transport failure.
func NetworkError(err error) *APIError {
	return &APIError{Code: CodeNetwork, Message: err.Error(), Err: err}
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
