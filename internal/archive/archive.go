// Package archive stores the full-fidelity PDF of a notebook and returns a
// durable link to it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Backend names accepted by New.
const (
	BackendDrive = "drive"
	BackendLocal = "local"
	BackendNone  = "none"
)

// Store uploads one PDF and returns a link to it.
type Store interface {
	Name() string
	Upload(ctx context.Context, name, pdfPath string) (string, error)
}

// Error is a storage failure. Retryable is false for failures a retry
// cannot fix, such as a rejected credential or a missing input file.
type Error struct {
	Backend   string
	Op        string
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s archive: %s", e.Backend, e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuth reports whether the store rejected the credential.
func (e *Error) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr, true
	}
	return nil, false
}

func statusError(backend, op string, status int, msg string) *Error {
	return &Error{
		Backend:   backend,
		Op:        op,
		Status:    status,
		Message:   msg,
		Retryable: status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500,
	}
}

// FileName derives the stored file name from a notebook key.
func FileName(key string) string {
	s := slug.Make(key)
	if s == "" {
		s = "notebook"
	}
	return s + ".pdf"
}

// Config selects and configures a backend.
type Config struct {
	Backend       string
	Dir           string
	DriveFolderID string
	DriveBaseURL  string
	UploadBaseURL string
}

// New builds the configured store. BackendNone and an empty backend return
// a nil Store, which disables archiving. ts is only used by the Drive
// backend.
func New(cfg Config, ts oauth2.TokenSource, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendLocal:
		return NewLocal(cfg.Dir)
	case BackendDrive:
		if ts == nil {
			return nil, fmt.Errorf("drive archive requires a Google token")
		}
		return NewDrive(DriveConfig{
			FolderID:      cfg.DriveFolderID,
			BaseURL:       cfg.DriveBaseURL,
			UploadBaseURL: cfg.UploadBaseURL,
		}, ts, logger)
	default:
		return nil, fmt.Errorf("unknown archive backend %q (want %s, %s or %s)", cfg.Backend, BackendDrive, BackendLocal, BackendNone)
	}
}
