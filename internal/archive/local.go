package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Local copies PDFs into a directory and links them with file:// URLs.
// Useful without a Google account and in tests.
type Local struct {
	dir string
}

var _ Store = (*Local)(nil)

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local archive requires a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Local{dir: abs}, nil
}

// Name implements Store.
func (l *Local) Name() string { return BackendLocal }

// Upload implements Store. An existing file of the same name is replaced.
func (l *Local) Upload(ctx context.Context, name, pdfPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Backend: BackendLocal, Op: "copy", Retryable: true, Err: err}
	}
	src, err := os.Open(pdfPath)
	if err != nil {
		return "", &Error{Backend: BackendLocal, Op: "read pdf", Err: err}
	}
	defer src.Close()

	dst := filepath.Join(l.dir, filepath.Base(name))
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", &Error{Backend: BackendLocal, Op: "copy", Retryable: true, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", &Error{Backend: BackendLocal, Op: "copy", Retryable: true, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Backend: BackendLocal, Op: "copy", Retryable: true, Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", &Error{Backend: BackendLocal, Op: "copy", Retryable: true, Err: err}
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}
	return u.String(), nil
}
