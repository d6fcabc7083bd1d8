package engine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailored-agentic-units/empath/classify"
	"github.com/tailored-agentic-units/empath/generate"
	"github.com/tailored-agentic-units/empath/session"
)

// Config holds initialization parameters for all engine subsystems.
// Each subsystem section delegates to that subsystem's config-driven
// constructor.
type Config struct {
	Classify classify.Config `json:"classify"`
	Generate generate.Config `json:"generate"`
	Session  session.Config  `json:"session"`

	// Persona replaces the built-in opening persona text of the system
	// instruction. A non-empty classifier system-prompt hint still takes
	// precedence per turn.
	Persona string `json:"persona,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Classify: classify.DefaultConfig(),
		Generate: generate.DefaultConfig(),
		Session:  session.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Classify.Merge(&source.Classify)
	c.Generate.Merge(&source.Generate)
	c.Session.Merge(&source.Session)

	if source.Persona != "" {
		c.Persona = source.Persona
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
