package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultServerBaseURL = "https://conductor.overturehq.com"
	DefaultWSHost        = "conductor.overturehq.com:443"
)

// Config is the on-disk configuration for overture-cli.
type Config struct {
	// ServerBaseURL is the backend REST base URL.
	ServerBaseURL string `json:"server_base_url"`
	// WSHost is the realtime endpoint as "host:port", no scheme.
	WSHost string `json:"ws_host"`
	// WSTLS selects wss for the realtime connection.
	WSTLS bool `json:"ws_tls,omitempty"`

	// PermissionMode is the default tool permission mode sent with new
	// streams: "ask", "accept_edits" or "bypass".
	PermissionMode string `json:"permission_mode,omitempty"`

	// HistoryPath overrides the local history database location.
	HistoryPath string `json:"history_path,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func Default() *Config {
	return &Config{
		ServerBaseURL:  DefaultServerBaseURL,
		WSHost:         DefaultWSHost,
		WSTLS:          true,
		PermissionMode: "ask",
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.ServerBaseURL) == "" {
		return errors.New("missing server_base_url")
	}
	if strings.TrimSpace(c.WSHost) == "" {
		return errors.New("missing ws_host")
	}
	switch c.PermissionMode {
	case "", "ask", "accept_edits", "bypass":
	default:
		return fmt.Errorf("unknown permission_mode: %q", c.PermissionMode)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log_format: %q", c.LogFormat)
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.overture/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "overture.config.json"
	}
	return filepath.Join(home, ".overture", "config.json")
}

// Load reads and validates a config file. A missing file yields the default
// config, not an error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
