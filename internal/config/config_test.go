package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.json"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.ServerBaseURL != DefaultServerBaseURL {
		t.Fatalf("unexpected default base url %q", cfg.ServerBaseURL)
	}
	if cfg.PermissionMode != "ask" {
		t.Fatalf("unexpected default permission mode %q", cfg.PermissionMode)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := &Config{
		ServerBaseURL:  "http://localhost:8080",
		WSHost:         "localhost:8080",
		PermissionMode: "accept_edits",
		LogFormat:      "text",
		LogLevel:       "debug",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config must be 0600, got %v", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{WSHost: "h:1"}},
		{"missing ws host", Config{ServerBaseURL: "http://x"}},
		{"bad permission mode", Config{ServerBaseURL: "http://x", WSHost: "h:1", PermissionMode: "yolo"}},
		{"bad log format", Config{ServerBaseURL: "http://x", WSHost: "h:1", LogFormat: "xml"}},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestCredentialsLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".credentials.json")

	if got := LoadCredentials(path); got.HasToken() {
		t.Fatalf("missing file must yield empty credentials: %+v", got)
	}

	creds := Credentials{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    4102444800, // far future
		UserID:       "u-1",
	}
	if err := SaveCredentials(path, creds); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("credentials must be 0600, got %v", info.Mode().Perm())
	}

	got := LoadCredentials(path)
	if got != creds {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.Valid() {
		t.Fatalf("expected valid credentials")
	}

	expired := Credentials{AccessToken: "at-2"}
	if !expired.Expired() {
		t.Fatalf("missing expiry must count as expired")
	}
}

func TestKeymapOverlay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keymap.yaml")
	if err := os.WriteFile(path, []byte("quit: ctrl+q\napprove_tool: \"1\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	km, err := LoadKeymap(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if km.Quit != "ctrl+q" || km.ApproveTool != "1" {
		t.Fatalf("overrides not applied: %+v", km)
	}
	if km.Submit != "enter" || km.DenyTool != "n" {
		t.Fatalf("defaults not preserved: %+v", km)
	}
}

func TestKeymapMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	km, err := LoadKeymap(filepath.Join(t.TempDir(), "keymap.yaml"))
	if err != nil {
		t.Fatalf("missing keymap must not error: %v", err)
	}
	if km != DefaultKeymap() {
		t.Fatalf("expected defaults, got %+v", km)
	}
}
