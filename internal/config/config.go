package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Project directory modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config models predictops.yml.
type Config struct {
	Backend struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"backend"`
	Directory struct {
		Mode string `yaml:"mode"` // local or remote
	} `yaml:"directory"`
	Workflow struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"workflow"`
	Chat struct {
		RevealDelayMillis int `yaml:"reveal_delay_ms"`
	} `yaml:"chat"`
}

// PollInterval returns the training progress poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

// RevealDelay returns the cosmetic message reveal delay.
func (c *Config) RevealDelay() time.Duration {
	return time.Duration(c.Chat.RevealDelayMillis) * time.Millisecond
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Directory.Mode {
	case ModeLocal, ModeRemote:
	default:
		return fmt.Errorf("config.directory.mode must be 'local' or 'remote'")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config.backend.base_url is required")
	}
	if c.Workflow.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config.workflow.poll_interval_seconds must be positive")
	}
	if c.Chat.RevealDelayMillis < 0 {
		return fmt.Errorf("config.chat.reveal_delay_ms must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "predictops.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pm init or pass --backend-url", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Backend.BaseURL = "http://127.0.0.1:5000"
	cfg.Directory.Mode = "local"
	cfg.Workflow.PollIntervalSeconds = 10
	cfg.Chat.RevealDelayMillis = 300
	return &cfg
}

// GenerateDefault returns the default config as YAML for pm init.
func GenerateDefault() string {
	return `backend:
  base_url: http://127.0.0.1:5000
  token: ""

directory:
  mode: local

workflow:
  poll_interval_seconds: 10

chat:
  reveal_delay_ms: 300
`
}
