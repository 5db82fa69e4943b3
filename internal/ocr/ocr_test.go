package ocr

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buger/jsonparser"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/v1/images:annotate", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "k3y", req.URL.Query().Get("key"))
		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		content, err := jsonparser.GetString(data, "requests", "[0]", "image", "content")
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(content)
		require.NoError(t, err)
		assert.Equal(t, "png-bytes", string(raw))
		feature, _ := jsonparser.GetString(data, "requests", "[0]", "features", "[0]", "type")
		assert.Equal(t, "DOCUMENT_TEXT_DETECTION", feature)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionRecognize(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      string
		wantErr   bool
		retryable bool
	}{
		{
			name:   "text",
			status: 200,
			body:   `{"responses":[{"fullTextAnnotation":{"text":"Buy milk\nCall Ana"}}]}`,
			want:   "Buy milk\nCall Ana",
		},
		{
			name:   "blank page",
			status: 200,
			body:   `{"responses":[{}]}`,
			want:   "",
		},
		{
			name:      "bad image",
			status:    200,
			body:      `{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`,
			wantErr:   true,
			retryable: false,
		},
		{
			name:      "quota",
			status:    429,
			body:      `{"error":{"code":429,"message":"Quota exceeded"}}`,
			wantErr:   true,
			retryable: true,
		},
		{
			name:      "forbidden",
			status:    403,
			body:      `{"error":{"code":403,"message":"API key not valid"}}`,
			wantErr:   true,
			retryable: true,
		},
		{
			name:      "malformed request",
			status:    400,
			body:      `{"error":{"code":400,"message":"Invalid JSON payload"}}`,
			wantErr:   true,
			retryable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := visionServer(t, tt.status, tt.body)
			v, err := NewVision("k3y", srv.URL+"/v1/images:annotate")
			require.NoError(t, err)

			got, err := v.Recognize(context.Background(), []byte("png-bytes"))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			var oerr *Error
			require.ErrorAs(t, err, &oerr)
			assert.Equal(t, tt.retryable, oerr.Retryable)
			assert.Equal(t, BackendVision, oerr.Backend)
		})
	}
}

func TestVisionRequiresKey(t *testing.T) {
	_, err := NewVision("", "")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "Post https://x?key=REDACTED: refused", redact("Post https://x?key=a+b: refused", "a b"))
}

func anthropicServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/v1/messages", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "sk-test", req.Header.Get("X-Api-Key"))
		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		mediaType, _ := jsonparser.GetString(data, "messages", "[0]", "content", "[0]", "source", "media_type")
		assert.Equal(t, "image/png", mediaType)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicRecognize(t *testing.T) {
	srv := anthropicServer(t, 200, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [{"type": "text", "text": " Meeting notes\nQ3 plan "}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	a, err := NewAnthropic("sk-test", "claude-test", srv.URL+"/")
	require.NoError(t, err)

	got, err := a.Recognize(context.Background(), []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "Meeting notes\nQ3 plan", got)
}

func TestAnthropicErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, true},
		{429, true},
		{529, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := anthropicServer(t, tt.status, `{"type":"error","error":{"type":"invalid_request_error","message":"nope"}}`)
			a, err := NewAnthropic("sk-test", "", srv.URL+"/")
			require.NoError(t, err)

			_, err = a.Recognize(context.Background(), []byte("png"))
			var oerr *Error
			require.ErrorAs(t, err, &oerr)
			assert.Equal(t, tt.status, oerr.Status)
			assert.Equal(t, tt.retryable, oerr.Retryable)
		})
	}
}

func TestNew(t *testing.T) {
	r, err := New(Config{Backend: BackendVision, VisionAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Vision{}, r)

	r, err = New(Config{Backend: BackendAnthropic, AnthropicAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, r)

	_, err = New(Config{Backend: "tesseract"})
	assert.Error(t, err)
}
