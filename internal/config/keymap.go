package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keymap maps actions to key chords. Users override individual entries in
// ~/.overture/keymap.yaml; anything unset keeps its default.
type Keymap struct {
	Submit          string `yaml:"submit"`
	CancelStream    string `yaml:"cancel_stream"`
	NextThread      string `yaml:"next_thread"`
	PrevThread      string `yaml:"prev_thread"`
	ToggleReasoning string `yaml:"toggle_reasoning"`
	NextError       string `yaml:"next_error"`
	PrevError       string `yaml:"prev_error"`
	DismissError    string `yaml:"dismiss_error"`
	ApproveTool     string `yaml:"approve_tool"`
	ApproveAlways   string `yaml:"approve_always"`
	DenyTool        string `yaml:"deny_tool"`
	Quit            string `yaml:"quit"`
}

func DefaultKeymap() Keymap {
	return Keymap{
		Submit:          "enter",
		CancelStream:    "esc",
		NextThread:      "ctrl+n",
		PrevThread:      "ctrl+p",
		ToggleReasoning: "ctrl+r",
		NextError:       "ctrl+down",
		PrevError:       "ctrl+up",
		DismissError:    "ctrl+x",
		ApproveTool:     "y",
		ApproveAlways:   "a",
		DenyTool:        "n",
		Quit:            "ctrl+c",
	}
}

// DefaultKeymapPath returns the default keymap path:
//
//	~/.overture/keymap.yaml
func DefaultKeymapPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "overture.keymap.yaml"
	}
	return filepath.Join(home, ".overture", "keymap.yaml")
}

// LoadKeymap reads the keymap file and overlays it on the defaults. A
// missing file yields the defaults.
func LoadKeymap(path string) (Keymap, error) {
	km := DefaultKeymap()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return km, nil
		}
		return km, err
	}
	if err := yaml.Unmarshal(b, &km); err != nil {
		return DefaultKeymap(), fmt.Errorf("invalid keymap: %w", err)
	}

	// Empty overrides fall back to the default binding.
	def := DefaultKeymap()
	fill := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	fill(&km.Submit, def.Submit)
	fill(&km.CancelStream, def.CancelStream)
	fill(&km.NextThread, def.NextThread)
	fill(&km.PrevThread, def.PrevThread)
	fill(&km.ToggleReasoning, def.ToggleReasoning)
	fill(&km.NextError, def.NextError)
	fill(&km.PrevError, def.PrevError)
	fill(&km.DismissError, def.DismissError)
	fill(&km.ApproveTool, def.ApproveTool)
	fill(&km.ApproveAlways, def.ApproveAlways)
	fill(&km.DenyTool, def.DenyTool)
	fill(&km.Quit, def.Quit)
	return km, nil
}

func SaveKeymap(path string, km Keymap) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(km)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
