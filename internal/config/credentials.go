package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credentials holds the OAuth tokens for the backend.
//
// NOTE: This file contains secrets. Always keep it chmod 0600.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a Unix timestamp in seconds.
	ExpiresAt int64  `json:"expires_at,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (c Credentials) HasToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// Expired treats a missing expiry as expired; better to refresh once too
// often than to stream with a dead token.
func (c Credentials) Expired() bool {
	if c.ExpiresAt == 0 {
		return true
	}
	return time.Now().Unix() >= c.ExpiresAt
}

func (c Credentials) Valid() bool {
	return c.HasToken() && !c.Expired()
}

// DefaultCredentialsPath returns the default credentials path:
//
//	~/.overture/.credentials.json
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".overture-credentials.json"
	}
	return filepath.Join(home, ".overture", ".credentials.json")
}

// LoadCredentials is best effort: a missing or unreadable file yields empty
// credentials so the caller falls through to interactive login.
func LoadCredentials(path string) Credentials {
	b, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}
	}
	var creds Credentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return Credentials{}
	}
	return creds
}

func SaveCredentials(path string, creds Credentials) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("empty credentials path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	b, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
