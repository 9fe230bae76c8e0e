package loom

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/goloom/llm"
)

// Redeclare policies for vibe-generated functions that reuse an existing
// name.
const (
	RedeclareReject    = "reject"
	RedeclareOverwrite = "overwrite"
)

// Config is the engine and driver configuration. Zero values fall back to
// DefaultConfig at load time.
type Config struct {
	// DefaultModel is used when source names no model.
	DefaultModel string `yaml:"default_model" json:"default_model"`

	// MaxToolRounds bounds one tool-calling conversation.
	MaxToolRounds int `yaml:"max_tool_rounds" json:"max_tool_rounds"`

	// Retry governs provider calls made by the driver.
	Retry llm.RetryPolicy `yaml:"retry" json:"retry"`

	// VibeRedeclare is RedeclareReject or RedeclareOverwrite.
	VibeRedeclare string `yaml:"vibe_redeclare" json:"vibe_redeclare"`

	// StorePath locates the run database.
	StorePath string `yaml:"store_path" json:"store_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		DefaultModel:  llm.DefaultAnthropicModel,
		MaxToolRounds: 10,
		Retry:         llm.DefaultRetryPolicy(),
		VibeRedeclare: RedeclareReject,
		StorePath:     "loom.db",
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.VibeRedeclare {
	case RedeclareReject, RedeclareOverwrite:
	default:
		return fmt.Errorf("config: vibe_redeclare must be %q or %q, got %q",
			RedeclareReject, RedeclareOverwrite, c.VibeRedeclare)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("config: max_tool_rounds must be at least 1, got %d", c.MaxToolRounds)
	}
	return nil
}

// SlogLevel maps the configured log level string to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
