// Package render rasterizes notebook pages to PNG images with pdftoppm.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"

	"github.com/mschirtzinger/inksync/internal/types"
)

const (
	// DefaultDPI is the resolution used when none is configured.
	DefaultDPI = 150

	// MinVersion is the oldest pdftoppm that supports -singlefile.
	MinVersion = "v0.20.0"
)

// ErrToolMissing is returned when pdftoppm cannot be run.
var ErrToolMissing = errors.New("pdftoppm not found")

// Error is a failed render of one page.
type Error struct {
	Page int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Renderer turns one page source into an image.
type Renderer interface {
	Render(ctx context.Context, page types.PageSource) ([]byte, error)
}

// Config holds pdftoppm settings.
type Config struct {
	// Binary is the pdftoppm executable. Default "pdftoppm".
	Binary string
	DPI    int
}

// Poppler renders pages with the poppler pdftoppm tool.
type Poppler struct {
	binary string
	dpi    int
	logger zerolog.Logger
}

var _ Renderer = (*Poppler)(nil)

// New creates a pdftoppm renderer.
func New(cfg Config, logger zerolog.Logger) *Poppler {
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	return &Poppler{binary: cfg.Binary, dpi: cfg.DPI, logger: logger}
}

// Render implements Renderer. Output is written to a private temporary
// directory that is removed before Render returns.
func (p *Poppler) Render(ctx context.Context, page types.PageSource) ([]byte, error) {
	if page.Number < 1 {
		return nil, &Error{Page: page.Number, Err: fmt.Errorf("%w: page numbers start at 1", types.ErrLocalInput)}
	}
	if _, err := os.Stat(page.PDFPath); err != nil {
		return nil, &Error{Page: page.Number, Err: fmt.Errorf("%w: %v", types.ErrLocalInput, err)}
	}

	dir, err := os.MkdirTemp("", "inksync-render-*")
	if err != nil {
		return nil, &Error{Page: page.Number, Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove render output")
		}
	}()

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page.Number)
	cmd := exec.CommandContext(ctx, p.binary,
		"-png",
		"-r", strconv.Itoa(p.dpi),
		"-f", n,
		"-l", n,
		"-singlefile",
		page.PDFPath,
		prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Page: page.Number, Err: fmt.Errorf("%w: %v", ErrToolMissing, err)}
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		return nil, &Error{Page: page.Number, Err: fmt.Errorf("%w: pdftoppm failed: %v: %s", types.ErrLocalInput, err, msg)}
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, &Error{Page: page.Number, Err: fmt.Errorf("%w: pdftoppm produced no image: %v", types.ErrLocalInput, err)}
	}
	p.logger.Debug().Str("pdf", page.PDFPath).Int("page", page.Number).Int("bytes", len(data)).Msg("page rendered")
	return data, nil
}

var versionPattern = regexp.MustCompile(`version (\d+)\.(\d+)(?:\.(\d+))?`)

// Version runs pdftoppm -v and returns its version in semver form.
func (p *Poppler) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, p.binary, "-v")
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	return parseVersion(string(out))
}

// Check verifies that pdftoppm exists and is recent enough.
func (p *Poppler) Check(ctx context.Context) error {
	v, err := p.Version(ctx)
	if err != nil {
		return err
	}
	if semver.Compare(v, MinVersion) < 0 {
		return fmt.Errorf("pdftoppm %s is older than required %s", v, MinVersion)
	}
	return nil
}

func parseVersion(out string) (string, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized pdftoppm version output %q", out)
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	p, _ := strconv.Atoi(patch)
	v := fmt.Sprintf("v%d.%d.%d", major, minor, p)
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid pdftoppm version %q", v)
	}
	return v, nil
}
