// Package auth supplies bearer credentials to the remote backends.
//
// Notion uses a static integration token. Google Drive uses an OAuth 2.0
// token obtained once through a browser consent flow, stored on disk and
// refreshed transparently; refreshed tokens are written back to the store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Google OAuth endpoints and the scope needed to create Drive files.
const (
	GoogleAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultRedirect = "http://localhost:8085"
	DriveFileScope  = "https://www.googleapis.com/auth/drive.file"
	tokenFilePerm   = 0o600
	tokenDirPerm    = 0o700
)

// ErrNotAuthorized is returned when no stored token exists yet.
var ErrNotAuthorized = errors.New("not authorized: run 'inksync auth google' first")

// Static returns a token source for a fixed bearer token.
func Static(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// GoogleConfig returns the OAuth configuration for the Drive archive.
func GoogleConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  GoogleAuthURL,
			TokenURL: GoogleTokenURL,
		},
		RedirectURL: DefaultRedirect,
		Scopes:      []string{DriveFileScope},
	}
}

// TokenStore persists one OAuth token as JSON.
type TokenStore struct {
	path string
	mu   stdsync.Mutex
}

// NewTokenStore creates a store at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Load reads the stored token. It returns ErrNotAuthorized when the file
// does not exist.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file %s: %w", s.path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNotAuthorized
	}
	return &tok, nil
}

// Save writes tok with owner-only permissions.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), tokenDirPerm); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, tokenFilePerm); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return os.Chmod(s.path, tokenFilePerm)
}

// persistingSource saves every token its base source hands out that
// differs from the last one seen.
type persistingSource struct {
	base   oauth2.TokenSource
	store  *TokenStore
	logger zerolog.Logger

	mu   stdsync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn().Err(err).Msg("failed to persist refreshed token")
		} else {
			p.logger.Debug().Time("expiry", tok.Expiry).Msg("refreshed token saved")
		}
	}
	return tok, nil
}

// TokenSource returns a source that starts from the stored token, refreshes
// it through cfg when it expires and saves each refreshed token.
func TokenSource(ctx context.Context, cfg *oauth2.Config, store *TokenStore, logger zerolog.Logger) (oauth2.TokenSource, error) {
	tok, err := store.Load()
	if err != nil {
		return nil, err
	}
	ps := &persistingSource{
		base:   cfg.TokenSource(ctx, tok),
		store:  store,
		logger: logger,
		last:   tok.AccessToken,
	}
	return oauth2.ReuseTokenSource(tok, ps), nil
}
