package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced past the executor boundary.
//
// Adapter errors are classified into exactly one of these once, so the
// planner and orchestrator never need to know which backend failed:
//
//	if errors.Is(err, types.ErrTransient) {
//	    // network timeout, 5xx, rate limit: retries were exhausted
//	}
var (
	// ErrTransient covers network timeouts, 5xx responses and rate limits.
	// It is retried with backoff before it is reported.
	ErrTransient = errors.New("transient remote error")

	// ErrAuth is returned for rejected or missing credentials. It is never
	// retried locally.
	ErrAuth = errors.New("authentication failed")

	// ErrValidation is returned when the remote schema or a request body is
	// rejected, for example a missing property. It is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrLocalInput is returned for unreadable or malformed local metadata
	// or page sources. The notebook is skipped and the run continues.
	ErrLocalInput = errors.New("invalid local input")

	// ErrRemoteUnavailable is returned when the remote index cannot be
	// loaded. It is the only error that aborts a run.
	ErrRemoteUnavailable = errors.New("remote index unavailable")
)

// Kind returns the kind sentinel err belongs to, or nil if it has none.
func Kind(err error) error {
	for _, kind := range []error{ErrAuth, ErrValidation, ErrLocalInput, ErrTransient, ErrRemoteUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short stable name for the kind of err.
func KindName(err error) string {
	switch Kind(err) {
	case ErrTransient:
		return "transient"
	case ErrAuth:
		return "auth"
	case ErrValidation:
		return "validation"
	case ErrLocalInput:
		return "local_input"
	case ErrRemoteUnavailable:
		return "remote_unavailable"
	default:
		return "unknown"
	}
}

// SyncError is a classified failure for one notebook.
type SyncError struct {
	Key  string
	Op   string
	Kind error

	// Field names the offending property for validation failures.
	Field string

	Err error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %q)", msg, e.Field)
	}
	if e.Key != "" {
		msg = e.Key + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *SyncError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
