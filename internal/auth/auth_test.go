package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/token", func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		require.NoError(t, req.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch req.PostForm.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "the-code", req.PostForm.Get("code"))
			_, _ = io.WriteString(w, `{"access_token":"first","refresh_token":"r1","token_type":"Bearer","expires_in":3600}`)
		case "refresh_token":
			assert.Equal(t, "r1", req.PostForm.Get("refresh_token"))
			_, _ = io.WriteString(w, `{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	cfg := GoogleConfig("client", "secret")
	cfg.Endpoint.TokenURL = tokenURL
	cfg.RedirectURL = "http://127.0.0.1:0"
	return cfg
}

func TestTokenStore(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "sub", "google_token.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotAuthorized)

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	require.NoError(t, store.Save(tok))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
	assert.True(t, tok.Expiry.Equal(got.Expiry))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := TokenSource(context.Background(), testConfig(srv.URL+"/token"), store, zerolog.Nop())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)

	// Still valid, no second refresh.
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", saved.AccessToken)
	assert.Equal(t, "r1", saved.RefreshToken)
}

func TestTokenSourceNotAuthorized(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := TokenSource(context.Background(), testConfig("http://unused"), store, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

// browser follows the consent URL by calling the redirect URI directly.
func browser(t *testing.T, code string, overrideState string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		assert.Equal(t, DriveFileScope, q.Get("scope"))
		assert.Equal(t, "offline", q.Get("access_type"))
		state := q.Get("state")
		if overrideState != "" {
			state = overrideState
		}
		cb := q.Get("redirect_uri") + "/?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
		go func() {
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestAuthorize(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	tok, err := Authorize(ctx, testConfig(srv.URL+"/token"), &out, browser(t, "the-code", ""))
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.Contains(t, out.String(), "Open this URL")
}

func TestAuthorizeStateMismatch(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Authorize(ctx, testConfig(srv.URL+"/token"), io.Discard, browser(t, "the-code", "forged"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
	assert.Equal(t, int32(0), hits.Load())
}

func TestAuthorizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Authorize(ctx, testConfig("http://unused"), io.Discard, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatic(t *testing.T) {
	tok, err := Static("secret_abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "secret_abc", tok.AccessToken)
}
