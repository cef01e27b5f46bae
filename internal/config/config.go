// Package config loads frameloom.yml, the per-project tool settings that
// sit beside pipeline.json. Everything has a working default; the file is
// optional.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the project directory.
const FileName = "frameloom.yml"

// Config models frameloom.yml.
type Config struct {
	Backend    Backend    `yaml:"backend"`
	Assembly   Assembly   `yaml:"assembly"`
	Validation Validation `yaml:"validation"`
}

// Backend configures how generation scripts are invoked.
type Backend struct {
	ScriptsDir     string `yaml:"scripts_dir"`
	Python         string `yaml:"python"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

// Assembly configures ffmpeg-based video merging.
type Assembly struct {
	FFmpeg             string  `yaml:"ffmpeg"`
	FFprobe            string  `yaml:"ffprobe"`
	TimeoutMinutes     int     `yaml:"timeout_minutes"`
	TransitionDuration float64 `yaml:"transition_duration"`
}

// Validation configures continuity-check thresholds.
type Validation struct {
	StrengthMin float64 `yaml:"strength_min"`
	StrengthMax float64 `yaml:"strength_max"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Backend: Backend{
			ScriptsDir:     "scripts",
			Python:         "python3",
			TimeoutMinutes: 15,
		},
		Assembly: Assembly{
			FFmpeg:             "ffmpeg",
			FFprobe:            "ffprobe",
			TimeoutMinutes:     10,
			TransitionDuration: 0.5,
		},
		Validation: Validation{
			StrengthMin: 0.3,
			StrengthMax: 1.0,
		},
	}
}

// Load reads frameloom.yml from the project directory, falling back to
// defaults when the file is absent. Present-but-broken files are an error.
func Load(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate ensures the config values are usable.
func (c *Config) Validate() error {
	if c.Backend.Python == "" {
		return fmt.Errorf("backend.python must not be empty")
	}
	if c.Backend.TimeoutMinutes <= 0 {
		return fmt.Errorf("backend.timeout_minutes must be positive")
	}
	if c.Assembly.TimeoutMinutes <= 0 {
		return fmt.Errorf("assembly.timeout_minutes must be positive")
	}
	if c.Assembly.TransitionDuration <= 0 {
		return fmt.Errorf("assembly.transition_duration must be positive")
	}
	if c.Validation.StrengthMin < 0 || c.Validation.StrengthMax <= c.Validation.StrengthMin {
		return fmt.Errorf("validation strength range %.2f-%.2f is not a valid range",
			c.Validation.StrengthMin, c.Validation.StrengthMax)
	}
	return nil
}
