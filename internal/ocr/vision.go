package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// DefaultVisionURL is the Cloud Vision annotate endpoint.
const DefaultVisionURL = "https://vision.googleapis.com/v1/images:annotate"

// Vision uses Google Cloud Vision DOCUMENT_TEXT_DETECTION.
type Vision struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

var _ Recognizer = (*Vision)(nil)

// NewVision creates a Vision recognizer. An empty endpoint selects
// DefaultVisionURL.
func NewVision(apiKey, endpoint string) (*Vision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google vision API key is required")
	}
	if endpoint == "" {
		endpoint = DefaultVisionURL
	}
	return &Vision{
		apiKey:   apiKey,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionImage struct {
	Content string `json:"content"`
}

type visionFeature struct {
	Type string `json:"type"`
}

// Recognize implements Recognizer. An image without text yields "".
func (v *Vision) Recognize(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(visionRequest{Requests: []visionImageRequest{{
		Image:    visionImage{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []visionFeature{{Type: "DOCUMENT_TEXT_DETECTION"}},
	}}})
	if err != nil {
		return "", fmt.Errorf("failed to encode vision request: %w", err)
	}

	u := v.endpoint + "?key=" + url.QueryEscape(v.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return "", &Error{Backend: BackendVision, Message: redact(err.Error(), v.apiKey), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Backend: BackendVision, Message: "failed to read response", Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg, perr := jsonparser.GetString(data, "error", "message")
		if perr != nil {
			msg = strings.TrimSpace(string(data))
		}
		return "", statusError(BackendVision, resp.StatusCode, msg, nil)
	}

	// Per-image failures arrive with status 200.
	if errValue, dataType, _, _ := jsonparser.Get(data, "responses", "[0]", "error"); dataType == jsonparser.Object {
		code, _ := jsonparser.GetInt(errValue, "code")
		msg, _ := jsonparser.GetString(errValue, "message")
		return "", &Error{
			Backend: BackendVision,
			Message: msg,
			// google.rpc.Code 3 is INVALID_ARGUMENT
			Retryable: code != 3,
		}
	}

	text, err := jsonparser.GetString(data, "responses", "[0]", "fullTextAnnotation", "text")
	if err == jsonparser.KeyPathNotFoundError {
		return "", nil
	}
	if err != nil {
		return "", &Error{Backend: BackendVision, Message: "malformed response", Retryable: true, Err: err}
	}
	return text, nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(secret), "REDACTED")
	return strings.ReplaceAll(s, secret, "REDACTED")
}
