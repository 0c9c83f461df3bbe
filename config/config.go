// Package config loads engine configuration from a YAML file with
// environment overrides. A .env file in the working directory is loaded
// first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Model configures the model client.
type Model struct {
	Provider    string   `yaml:"Provider,omitempty" json:"Provider,omitempty"`
	ID          string   `yaml:"ID,omitempty" json:"ID,omitempty"`
	Endpoint    string   `yaml:"Endpoint,omitempty" json:"Endpoint,omitempty"`
	APIKey      string   `yaml:"APIKey,omitempty" json:"APIKey,omitempty"`
	Temperature *float64 `yaml:"Temperature,omitempty" json:"Temperature,omitempty"`
	MaxTokens   *int     `yaml:"MaxTokens,omitempty" json:"MaxTokens,omitempty"`
}

// Checkpoints configures automatic checkpointing.
type Checkpoints struct {
	Auto                *bool `yaml:"Auto,omitempty" json:"Auto,omitempty"`
	AutoPruneKeepLatest int   `yaml:"AutoPruneKeepLatest,omitempty" json:"AutoPruneKeepLatest,omitempty"`
	HistoryRunsInjected int   `yaml:"HistoryRunsInjected,omitempty" json:"HistoryRunsInjected,omitempty"`
}

// Config is the engine configuration.
type Config struct {
	StorePath    string      `yaml:"StorePath,omitempty" json:"StorePath,omitempty"`
	LogLevel     string      `yaml:"LogLevel,omitempty" json:"LogLevel,omitempty"`
	SystemPrompt string      `yaml:"SystemPrompt,omitempty" json:"SystemPrompt,omitempty"`
	RootPassword string      `yaml:"RootPassword,omitempty" json:"RootPassword,omitempty"`
	Model        Model       `yaml:"Model,omitempty" json:"Model,omitempty"`
	Checkpoints  Checkpoints `yaml:"Checkpoints,omitempty" json:"Checkpoints,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	auto := true
	return &Config{
		StorePath: "rewind.db",
		LogLevel:  "info",
		Model: Model{
			Provider: "openai",
			ID:       "gpt-4o",
		},
		Checkpoints: Checkpoints{
			Auto:                &auto,
			AutoPruneKeepLatest: 5,
			HistoryRunsInjected: 10,
		},
	}
}

// Load reads the configuration file at path (YAML) over the defaults,
// then applies environment overrides. An empty path skips the file. A
// .env file is loaded into the environment first if one exists.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; only the shell environment applies then.
	_ = godotenv.Load()

	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseYAML loads a Config from YAML over the defaults.
func ParseYAML(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REWIND_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("REWIND_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REWIND_ROOT_PASSWORD"); v != "" {
		c.RootPassword = v
	}
	if v := os.Getenv("REWIND_MODEL_ENDPOINT"); v != "" {
		c.Model.Endpoint = v
	}
	if v := os.Getenv("REWIND_MODEL_ID"); v != "" {
		c.Model.ID = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Model.APIKey == "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("REWIND_MODEL_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			c.Model.Temperature = &t
		}
	}
	if v := os.Getenv("REWIND_AUTO_CHECKPOINT"); v != "" {
		enabled := strings.EqualFold(v, "true") || v == "1"
		c.Checkpoints.Auto = &enabled
	}
}

func (c *Config) validate() error {
	if c.Checkpoints.AutoPruneKeepLatest < 1 {
		return fmt.Errorf("AutoPruneKeepLatest must be >= 1, got %d", c.Checkpoints.AutoPruneKeepLatest)
	}
	if c.Checkpoints.HistoryRunsInjected < 0 {
		return fmt.Errorf("HistoryRunsInjected must be >= 0, got %d", c.Checkpoints.HistoryRunsInjected)
	}
	return nil
}

// AutoCheckpoint reports whether automatic checkpointing is enabled.
func (c *Config) AutoCheckpoint() bool {
	return c.Checkpoints.Auto == nil || *c.Checkpoints.Auto
}
