// Package config loads and validates the application configuration from YAML,
// with secrets resolved separately (encrypted file or environment).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file omits a field.
const (
	DefaultProvider       = "google"
	DefaultModel          = "gemini-2.5-flash"
	DefaultDataDir        = ".aegis"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 4096
	DefaultTimeoutSeconds = 120
	DefaultTokenBudget    = 16000
)

// ConfigFileName is the expected config file name inside the data directory.
const ConfigFileName = "config.yaml"

// GenerationConfig bounds individual generation calls.
type GenerationConfig struct {
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// TokenBudget caps the assembled request context size. Requests over
	// budget are rejected before the provider call.
	TokenBudget int `yaml:"token_budget"`
}

// Timeout returns the per-call deadline as a duration.
func (g *GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Config is the full application configuration.
type Config struct {
	Provider   string           `yaml:"provider"`
	Model      string           `yaml:"model"`
	OllamaHost string           `yaml:"ollama_host,omitempty"`
	DataDir    string           `yaml:"data_dir"`
	Generation GenerationConfig `yaml:"generation"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Provider: DefaultProvider,
		Model:    DefaultModel,
		DataDir:  DefaultDataDir,
		Generation: GenerationConfig{
			Temperature:    DefaultTemperature,
			MaxTokens:      DefaultMaxTokens,
			TimeoutSeconds: DefaultTimeoutSeconds,
			TokenBudget:    DefaultTokenBudget,
		},
	}
}

// Load reads the config file at path. A missing file is not an error; the
// defaults are returned so first runs work without any setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to path in YAML form.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = DefaultTemperature
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = DefaultMaxTokens
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Generation.TokenBudget == 0 {
		cfg.Generation.TokenBudget = DefaultTokenBudget
	}
}

// Validate rejects configurations the rest of the system cannot act on.
func Validate(cfg *Config) error {
	switch cfg.Provider {
	case "google", "gemini", "anthropic", "claude", "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider %q in config", cfg.Provider)
	}
	if cfg.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if cfg.Generation.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if cfg.Generation.TokenBudget < cfg.Generation.MaxTokens {
		return fmt.Errorf("token_budget (%d) must be at least max_tokens (%d)",
			cfg.Generation.TokenBudget, cfg.Generation.MaxTokens)
	}
	return nil
}

// APIKeyEnvVar returns the environment variable name holding the provider's
// API key, also used as the secret name in the encrypted secrets file.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case "google", "gemini":
		return "GEMINI_API_KEY"
	case "anthropic", "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
