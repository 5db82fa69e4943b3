package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Drive API endpoints.
const (
	DefaultDriveURL  = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	viewLinkFormat   = "https://drive.google.com/uc?export=view&id=%s"
)

// DriveConfig configures the Google Drive store.
type DriveConfig struct {
	// FolderID is the parent folder; empty uploads to the Drive root.
	FolderID      string
	BaseURL       string
	UploadBaseURL string
	Timeout       time.Duration
}

// Drive uploads PDFs to Google Drive and shares them read-only with anyone
// holding the link.
type Drive struct {
	cfg    DriveConfig
	http   *http.Client
	logger zerolog.Logger
}

var _ Store = (*Drive)(nil)

// NewDrive creates a Drive store authenticated by ts.
func NewDrive(cfg DriveConfig, ts oauth2.TokenSource, logger zerolog.Logger) (*Drive, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDriveURL
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = DefaultUploadURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = cfg.Timeout
	return &Drive{
		cfg:    cfg,
		http:   hc,
		logger: logger.With().Str("component", "archive").Str("backend", BackendDrive).Logger(),
	}, nil
}

// Name implements Store.
func (d *Drive) Name() string { return BackendDrive }

type fileMetadata struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

// Upload implements Store. It creates a new Drive file on every call; the
// returned link is what the remote record keeps.
func (d *Drive) Upload(ctx context.Context, name, pdfPath string) (string, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", &Error{Backend: BackendDrive, Op: "read pdf", Err: err}
	}

	meta := fileMetadata{Name: name, MimeType: "application/pdf"}
	if d.cfg.FolderID != "" {
		meta.Parents = []string{d.cfg.FolderID}
	}
	body, contentType, err := multipartBody(meta, data)
	if err != nil {
		return "", &Error{Backend: BackendDrive, Op: "encode upload", Err: err}
	}

	resp, err := d.send(ctx, "upload", http.MethodPost,
		d.cfg.UploadBaseURL+"/files?uploadType=multipart&fields=id", contentType, body)
	if err != nil {
		return "", err
	}
	id, err := jsonparser.GetString(resp, "id")
	if err != nil || id == "" {
		return "", &Error{Backend: BackendDrive, Op: "upload", Message: "response has no file id", Retryable: true}
	}

	perm := []byte(`{"role":"reader","type":"anyone"}`)
	if _, err := d.send(ctx, "share", http.MethodPost,
		d.cfg.BaseURL+"/files/"+url.PathEscape(id)+"/permissions", "application/json", perm); err != nil {
		return "", err
	}

	link := fmt.Sprintf(viewLinkFormat, id)
	d.logger.Debug().Str("file", name).Str("id", id).Int("bytes", len(data)).Msg("archived pdf")
	return link, nil
}

func multipartBody(meta fileMetadata, pdf []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/pdf")
	part, err = w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

func (d *Drive) send(ctx context.Context, op, method, u, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Backend: BackendDrive, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.http.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.Response == nil || rerr.Response.StatusCode < 500) {
			return nil, &Error{Backend: BackendDrive, Op: op, Status: http.StatusUnauthorized, Message: "token refresh failed", Err: err}
		}
		return nil, &Error{Backend: BackendDrive, Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Backend: BackendDrive, Op: op, Retryable: true, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		msg, perr := jsonparser.GetString(data, "error", "message")
		if perr != nil {
			msg = strings.TrimSpace(string(data))
		}
		// Drive reports quota exhaustion as 403 with a rate limit reason.
		reason, _ := jsonparser.GetString(data, "error", "errors", "[0]", "reason")
		aerr := statusError(BackendDrive, op, resp.StatusCode, msg)
		if reason == "rateLimitExceeded" || reason == "userRateLimitExceeded" {
			aerr.Retryable = true
		}
		return nil, aerr
	}
	return data, nil
}
