// Package googleauth turns herald's Google credential files into client
// options for the Calendar, Drive and Docs services.
//
// Two credential kinds are accepted: a service account key, or an
// installed-app client secret together with a token file produced by
// `herald auth`.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Scopes requested for every credential kind.
var Scopes = []string{drive.DriveScope, docs.DocumentsScope, calendar.CalendarReadonlyScope}

var ErrNoToken = errors.New("no oauth token: run `herald auth` first")

type Config struct {
	CredentialsFile string
	TokenFile       string
}

// ClientOptions builds options shared by all Google services.
func ClientOptions(ctx context.Context, cfg Config) ([]option.ClientOption, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	if isServiceAccount(data) {
		creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("service account credentials: %w", err)
		}
		return []option.ClientOption{option.WithTokenSource(creds.TokenSource)}, nil
	}

	oc, err := OAuthConfig(data)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	ts := &savingSource{
		base: oc.TokenSource(ctx, tok),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}
	return []option.ClientOption{option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts))}, nil
}

// OAuthConfig parses an installed-app client secret.
func OAuthConfig(data []byte) (*oauth2.Config, error) {
	oc, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("oauth client secret: %w", err)
	}
	return oc, nil
}

func isServiceAccount(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &probe) == nil && probe.Type == "service_account"
}

func LoadToken(path string) (*oauth2.Token, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoToken
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken writes tok with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// savingSource persists refreshed tokens so a restart does not lose the
// newest refresh token.
type savingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		_ = SaveToken(s.path, tok)
	}
	return tok, nil
}
