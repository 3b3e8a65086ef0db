// Package auth holds the ChatGPT OAuth credential: its on-disk shape,
// JWT claim helpers and typed failure classes shared by the token
// manager and the login flow.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/store"
)

// FileName is the credential file kept in the chatmock home directory.
const FileName = "auth.json"

// TokenData holds the OAuth tokens for a ChatGPT login.
type TokenData struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Bundle is the on-disk shape of auth.json. APIKey is only present when the
// login flow completed the optional token-exchange grant.
type Bundle struct {
	APIKey      string    `json:"OPENAI_API_KEY,omitempty"`
	Tokens      TokenData `json:"tokens"`
	LastRefresh string    `json:"last_refresh"`
}

// ErrReauthRequired means the stored refresh token is no longer usable and
// an interactive login is needed.
var ErrReauthRequired = errors.New("authentication expired, run login again")

// ErrNoCredentials means no auth.json exists yet.
var ErrNoCredentials = errors.New("no credentials found, run login first")

// TransientError wraps a refresh failure worth retrying later, such as a
// network error or a 5xx from the token endpoint.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient auth failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FilePath returns the auth.json path inside dir.
func FilePath(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the credential bundle from dir. A missing file yields
// ErrNoCredentials.
func Load(dir string) (*Bundle, error) {
	data, err := os.ReadFile(FilePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse auth file: %w", err)
	}
	return &b, nil
}

// Save writes the bundle to dir atomically with owner-only permissions.
func Save(dir string, b *Bundle) error {
	if b == nil {
		return errors.New("nil auth bundle")
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth file: %w", err)
	}
	if err := store.WriteFileAtomic(FilePath(dir), data, 0o600); err != nil {
		return fmt.Errorf("write auth file: %w", err)
	}
	return nil
}

// NowStamp formats the current instant the way last_refresh is stored:
// RFC 3339 UTC with a Z suffix.
func NowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseStamp parses a last_refresh value. Returns the zero time when the
// field is empty or malformed.
func ParseStamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
