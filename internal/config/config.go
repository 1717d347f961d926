// Package config holds all metriclens configuration, loaded from a YAML file
// with environment-variable overrides for secrets and deployment paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all metriclens configuration.
type Config struct {
	Name string `yaml:"name"`

	// LLM configures the natural-language interpretation service.
	LLM LLMConfig `yaml:"llm"`

	// Tool configures the remote analytics tool connection.
	Tool ToolConfig `yaml:"tool"`

	// Refine configures the retry/refinement loop.
	Refine RefineConfig `yaml:"refine"`

	// Report configures composite report fan-out.
	Report ReportConfig `yaml:"report"`

	// Store configures the activity log database.
	Store StoreConfig `yaml:"store"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the interpretation service client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// ToolConfig configures the analytics tool transport.
type ToolConfig struct {
	// Command is the stdio endpoint: executable plus arguments.
	Command string `yaml:"command"`
	// Timeout bounds a single tool invocation.
	Timeout string `yaml:"timeout"`
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout string `yaml:"connect_timeout"`
}

// RefineConfig configures the refinement loop.
type RefineConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"max_attempts"`
}

// ReportConfig configures composite reports.
type ReportConfig struct {
	// SectionTimeout bounds each sub-query of a composite report.
	SectionTimeout string `yaml:"section_timeout"`
	// BreakdownLimit caps rows per breakdown section.
	BreakdownLimit int `yaml:"breakdown_limit"`
}

// StoreConfig configures the sqlite activity store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name: "metriclens",
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "45s",
		},
		Tool: ToolConfig{
			Timeout:        "30s",
			ConnectTimeout: "20s",
		},
		Refine: RefineConfig{
			Enabled:     true,
			MaxAttempts: 3,
		},
		Report: ReportConfig{
			SectionTimeout: "30s",
			BreakdownLimit: 10,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(".metriclens", "activity.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applying defaults for missing fields
// and environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets deployment environments supply secrets and paths
// without editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("METRICLENS_GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("METRICLENS_TOOL_COMMAND"); v != "" {
		c.Tool.Command = v
	}
	if v := os.Getenv("METRICLENS_DB_PATH"); v != "" {
		c.Store.Path = v
	}
}

// Validate checks fields that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Refine.MaxAttempts < 1 {
		return fmt.Errorf("refine.max_attempts must be at least 1, got %d", c.Refine.MaxAttempts)
	}
	for name, d := range map[string]string{
		"llm.timeout":            c.LLM.Timeout,
		"tool.timeout":           c.Tool.Timeout,
		"tool.connect_timeout":   c.Tool.ConnectTimeout,
		"report.section_timeout": c.Report.SectionTimeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration field, falling back when unset or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
