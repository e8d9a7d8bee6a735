package feedio

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Script is a named sequence of REPL commands, loaded from a TOML file so a
// spicyfeed session can be replayed without retyping hex at a prompt. The
// format mirrors the teacher's own structured-file loading in
// internal/tqw (toml.Unmarshal over a scanned file), just for REPL command
// scripts instead of world data.
type Script struct {
	// Grammar names the demo grammar the script expects to be loaded
	// against. Empty means "whatever -g selected".
	Grammar string `toml:"grammar"`
	// Desc is a human-readable description shown when the script is loaded.
	Desc string `toml:"desc"`
	// Commands are run in order, one per dispatch call, exactly as if typed
	// at the prompt (including the leading ":").
	Commands []string `toml:"commands"`
}

// LoadScript reads and parses a Script from the TOML file at path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}
