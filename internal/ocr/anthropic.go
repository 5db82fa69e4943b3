package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

const transcribePrompt = "Transcribe the handwritten text on this notebook page exactly as written. " +
	"Keep line breaks. Output only the transcription, or nothing if the page has no text."

// Anthropic transcribes pages with a vision-capable Claude model.
type Anthropic struct {
	client anthropic.Client
	model  string
}

var _ Recognizer = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic recognizer. The SDK's own retries are
// disabled; the sync retry policy applies instead.
func NewAnthropic(apiKey, model, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}, nil
}

// Recognize implements Recognizer.
func (a *Anthropic) Recognize(ctx context.Context, image []byte) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(transcribePrompt),
			),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", statusError(BackendAnthropic, apiErr.StatusCode, apiErr.Error(), err)
		}
		return "", &Error{Backend: BackendAnthropic, Message: err.Error(), Retryable: true, Err: err}
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
