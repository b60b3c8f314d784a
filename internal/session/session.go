// Package session persists the CLI's access token and resolves the acting
// owner from it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/larder/internal/errs"
)

// Token is the on-disk session record.
type Token struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DefaultDir returns $XDG_CONFIG_HOME/larder, falling back to ~/.config/larder.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "larder")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "larder")
}

// Store reads and writes token.json in a config directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Path is the token file location.
func (s *Store) Path() string { return filepath.Join(s.dir, "token.json") }

// Save writes tok with owner-only permissions.
func (s *Store) Save(tok Token) error {
	if tok.AccessToken == "" {
		return fmt.Errorf("save session: %w: empty token", errs.ErrInvalid)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored token, expired or not. A missing file is ErrNotFound.
func (s *Store) Load() (Token, error) {
	b, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Token{}, fmt.Errorf("load session: %w", errs.ErrNotFound)
	}
	if err != nil {
		return Token{}, fmt.Errorf("load session: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return Token{}, fmt.Errorf("load session: %w", err)
	}
	return tok, nil
}

// Clear removes the token file. Clearing an absent session is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CurrentOwner reports the JWT subject of a stored, unexpired token.
//
// The signature is not checked here; the server does that on every call.
func (s *Store) CurrentOwner(context.Context) (string, bool) {
	tok, ok := s.valid()
	if !ok {
		return "", false
	}
	return tok.UserID, true
}

// Token returns the bearer token of a live session, or "".
func (s *Store) Token() string {
	tok, ok := s.valid()
	if !ok {
		return ""
	}
	return tok.AccessToken
}

func (s *Store) valid() (Token, bool) {
	tok, err := s.Load()
	if err != nil || tok.AccessToken == "" {
		return Token{}, false
	}
	now := s.now()
	if !tok.ExpiresAt.IsZero() && !now.Before(tok.ExpiresAt) {
		return Token{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err != nil {
		return Token{}, false
	}
	if claims.Subject == "" || (tok.UserID != "" && claims.Subject != tok.UserID) {
		return Token{}, false
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return Token{}, false
	}
	tok.UserID = claims.Subject
	return tok, true
}
