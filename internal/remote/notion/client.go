// Package notion implements remote.Client on top of the Notion REST API.
//
// Each synced notebook is one page in a Notion database. The synced fields
// are page properties; page images and recognized text live in a toggle
// block appended to the page in a single request.
package notion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

const (
	// DefaultBaseURL is the Notion API root.
	DefaultBaseURL = "https://api.notion.com/v1"

	// APIVersion is sent with every request except file uploads.
	APIVersion = "2022-06-28"

	// FileUploadVersion is required by the file upload endpoints.
	FileUploadVersion = "2025-09-03"

	pageSize = 100
)

// Config holds client settings.
type Config struct {
	DatabaseID string

	// BaseURL overrides DefaultBaseURL, used by tests.
	BaseURL string

	// Timeout bounds each HTTP request. Default is 60 seconds.
	Timeout time.Duration
}

// Client talks to one Notion database.
type Client struct {
	http       *http.Client
	baseURL    string
	databaseID string
	logger     zerolog.Logger

	mu        stdsync.Mutex
	titleProp string
}

var _ remote.Client = (*Client)(nil)

// New creates a client. Requests carry a bearer token from ts.
func New(cfg Config, ts oauth2.TokenSource, logger zerolog.Logger) (*Client, error) {
	if cfg.DatabaseID == "" {
		return nil, fmt.Errorf("notion database ID is required")
	}
	if ts == nil {
		return nil, fmt.Errorf("notion token source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		databaseID: normalizeID(cfg.DatabaseID),
		logger:     logger.With().Str("backend", "notion").Logger(),
	}, nil
}

// Name implements remote.Client.
func (c *Client) Name() string { return "notion" }

// Verify implements remote.Client.
func (c *Client) Verify(ctx context.Context) error {
	var db databaseObject
	if err := c.do(ctx, http.MethodGet, "/databases/"+c.databaseID, APIVersion, nil, &db); err != nil {
		return fmt.Errorf("failed to read database: %w", err)
	}
	c.logger.Debug().Str("database", db.plainTitle()).Msg("connection verified")
	return nil
}

// Schema implements remote.Client.
func (c *Client) Schema(ctx context.Context) (schema.Remote, error) {
	var db databaseObject
	if err := c.do(ctx, http.MethodGet, "/databases/"+c.databaseID, APIVersion, nil, &db); err != nil {
		return schema.Remote{}, fmt.Errorf("failed to read database schema: %w", err)
	}
	r := schema.Remote{Properties: make(map[string]schema.PropertyType, len(db.Properties))}
	for name, prop := range db.Properties {
		r.Properties[name] = schema.PropertyType(prop.Type)
	}
	if title, ok := r.TitleProperty(); ok {
		c.mu.Lock()
		c.titleProp = title
		c.mu.Unlock()
	}
	return r, nil
}

// EnsureSchema implements remote.Client.
func (c *Client) EnsureSchema(ctx context.Context, missing []schema.Field) error {
	if len(missing) == 0 {
		return nil
	}
	props := make(map[string]any, len(missing))
	for _, f := range missing {
		props[f.Name] = propertySchema(f.Type)
	}
	body := map[string]any{"properties": props}
	if err := c.do(ctx, http.MethodPatch, "/databases/"+c.databaseID, APIVersion, body, nil); err != nil {
		return fmt.Errorf("failed to add database properties: %w", err)
	}
	for _, f := range missing {
		c.logger.Info().Str("property", f.Name).Str("type", string(f.Type)).Msg("added database property")
	}
	return nil
}

// Query implements remote.Client.
func (c *Client) Query(ctx context.Context, cursor string) (*remote.Page, error) {
	return c.query(ctx, queryRequest{PageSize: pageSize, StartCursor: cursor})
}

// FindByKey implements remote.Client.
func (c *Client) FindByKey(ctx context.Context, key string) (*types.RemoteRecord, error) {
	page, err := c.query(ctx, queryRequest{
		PageSize: pageSize,
		Filter: &propertyFilter{
			Property: schema.KeyProperty,
			RichText: &textFilter{Equals: key},
		},
	})
	if err != nil {
		return nil, err
	}
	var found *types.RemoteRecord
	for _, rec := range page.Records {
		if rec.Key != key {
			continue
		}
		if found == nil || rec.ModifiedAt.After(found.ModifiedAt) {
			found = rec
		}
	}
	return found, nil
}

func (c *Client) query(ctx context.Context, req queryRequest) (*remote.Page, error) {
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/databases/"+c.databaseID+"/query", APIVersion, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	page := &remote.Page{HasMore: resp.HasMore}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	for i := range resp.Results {
		if resp.Results[i].Archived || resp.Results[i].InTrash {
			continue
		}
		page.Records = append(page.Records, resp.Results[i].record())
	}
	return page, nil
}

// Create implements remote.Client.
func (c *Client) Create(ctx context.Context, rec remote.NewRecord) (*types.RemoteRecord, error) {
	titleProp, err := c.titleProperty(ctx)
	if err != nil {
		return nil, err
	}
	body := createPageRequest{
		Parent: parent{DatabaseID: c.databaseID},
		Properties: map[string]any{
			titleProp:              titleValue(rec.Title),
			schema.KeyProperty:     richTextValue(rec.Key),
			schema.CreatedProperty: dateValue(rec.CreatedAt),
		},
	}
	var page pageObject
	if err := c.do(ctx, http.MethodPost, "/pages", APIVersion, body, &page); err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	out := page.record()
	if out.Key == "" {
		out.Key = rec.Key
		out.Title = rec.Title
		out.CreatedAt = types.NormalizeTime(rec.CreatedAt)
	}
	return out, nil
}

// UpdateProperties implements remote.Client.
func (c *Client) UpdateProperties(ctx context.Context, id string, patch remote.Patch) error {
	if patch.Empty() {
		return nil
	}
	body := map[string]any{"properties": patchProperties(patch)}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+id, APIVersion, body, nil); err != nil {
		return fmt.Errorf("failed to update page properties: %w", err)
	}
	return nil
}

func (c *Client) titleProperty(ctx context.Context) (string, error) {
	c.mu.Lock()
	title := c.titleProp
	c.mu.Unlock()
	if title != "" {
		return title, nil
	}
	s, err := c.Schema(ctx)
	if err != nil {
		return "", err
	}
	title, ok := s.TitleProperty()
	if !ok {
		return "", &remote.APIError{Status: http.StatusBadRequest, Code: remote.CodeValidation, Field: "title", Message: "database has no title property"}
	}
	return title, nil
}

// do sends one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path, version string, body, out any) error {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Notion-Version", version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.NetworkError(err)
	}

	c.logger.Trace().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("notion request")

	if resp.StatusCode >= 300 {
		return decodeError(resp, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &remote.APIError{Status: resp.StatusCode, Code: remote.CodeInvalidJSON, Message: "malformed response body", Err: err}
	}
	return nil
}

func transportError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := http.StatusUnauthorized
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status < 500 {
			return &remote.APIError{Status: http.StatusUnauthorized, Code: remote.CodeUnauthorized, Message: "token refresh failed", Err: err}
		}
	}
	return remote.NetworkError(err)
}

func decodeError(resp *http.Response, data []byte) error {
	apiErr := &remote.APIError{
		Status: resp.StatusCode,
		After:  remote.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	var body errorObject
	if err := json.Unmarshal(data, &body); err == nil && body.Object == "error" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Code = codeForStatus(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if apiErr.IsValidation() {
		apiErr.Field = fieldInMessage(apiErr.Message)
	}
	return apiErr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return remote.CodeUnauthorized
	case status == http.StatusForbidden:
		return remote.CodeRestricted
	case status == http.StatusNotFound:
		return remote.CodeNotFound
	case status == http.StatusConflict:
		return remote.CodeConflict
	case status == http.StatusTooManyRequests:
		return remote.CodeRateLimited
	case status == http.StatusServiceUnavailable:
		return remote.CodeServiceUnavailable
	case status == http.StatusGatewayTimeout:
		return remote.CodeGatewayTimeout
	case status >= 500:
		return remote.CodeInternal
	default:
		return remote.CodeValidation
	}
}

// fieldInMessage finds the synced property a validation message refers to.
func fieldInMessage(msg string) string {
	for _, f := range schema.Fields {
		if strings.Contains(msg, f.Name) {
			return f.Name
		}
	}
	return ""
}

// normalizeID accepts a database ID with or without dashes, or a database
// URL copied from the browser.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	if !strings.Contains(id, "/") {
		return id
	}
	id = id[strings.LastIndexByte(id, '/')+1:]
	if i := strings.LastIndexByte(id, '-'); i >= 0 && len(id)-i-1 == 32 {
		id = id[i+1:]
	}
	return id
}
