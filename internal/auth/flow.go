package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Authorize runs the browser consent flow. It listens on the host and port
// of cfg.RedirectURL, prints the consent URL to out, calls open with it when
// open is non-nil, and exchanges the returned code for a token.
//
// A redirect port of 0 picks a free port.
func Authorize(ctx context.Context, cfg *oauth2.Config, out io.Writer, open func(string) error) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	defer ln.Close()

	c := *cfg
	if _, port, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		redirect.Host = net.JoinHostPort(redirect.Hostname(), port)
	}
	c.RedirectURL = redirect.String()

	state := uuid.NewString()
	authURL := c.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") == "" && q.Get("code") == "" && q.Get("error") == "" {
				http.NotFound(w, r)
				return
			}
			var res result
			switch {
			case q.Get("error") != "":
				res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
			case q.Get("state") != state:
				res.err = errors.New("authorization state mismatch")
			case q.Get("code") == "":
				res.err = errors.New("authorization response has no code")
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				_, _ = io.WriteString(w, "Authorization complete. You can close this window.\n")
			}
			select {
			case done <- res:
			default:
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "Open this URL in your browser to authorize access:\n\n  %s\n\n", authURL)
	if open != nil {
		if err := open(authURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser automatically: %v\n", err)
		}
	}

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := c.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("no refresh token received; revoke access and authorize again")
	}
	return tok, nil
}
