// Package ocr recognizes handwritten text in page images.
//
// Two backends are provided: Google Cloud Vision document text detection
// and Anthropic's vision-capable models. Both report failures as *Error,
// which states whether a retry can help.
package ocr

import (
	"context"
	"fmt"
	"net/http"
)

// Recognizer extracts text from one PNG image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Error is a failed recognition call.
type Error struct {
	Backend string
	Status  int
	Message string

	// Retryable is false only for requests the service rejected as
	// malformed, such as an undecodable image.
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s recognition failed (%d): %s", e.Backend, e.Status, e.Message)
	}
	return fmt.Sprintf("%s recognition failed: %s", e.Backend, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError builds an Error from an HTTP status. Only 400 and 422 are
// final; quota, auth and server failures are left to the retry policy.
func statusError(backend string, status int, msg string, err error) *Error {
	return &Error{
		Backend:   backend,
		Status:    status,
		Message:   msg,
		Retryable: status != http.StatusBadRequest && status != http.StatusUnprocessableEntity,
		Err:       err,
	}
}

// Backend names.
const (
	BackendVision    = "vision"
	BackendAnthropic = "anthropic"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	VisionAPIKey  string
	VisionBaseURL string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string
}

// New creates the configured recognizer.
func New(cfg Config) (Recognizer, error) {
	switch cfg.Backend {
	case "", BackendVision:
		return NewVision(cfg.VisionAPIKey, cfg.VisionBaseURL)
	case BackendAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL)
	default:
		return nil, fmt.Errorf("unknown OCR backend %q", cfg.Backend)
	}
}
