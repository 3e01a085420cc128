// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level agentwire configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Session   SessionConfig   `toml:"session"`
	Output    OutputConfig    `toml:"output"`
	Transport TransportConfig `toml:"transport"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	History   HistoryConfig   `toml:"history"`
	Logging   LoggingConfig   `toml:"logging"`
}

// LLMConfig contains model provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"` // anthropic, openai, google; inferred from model when empty
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"` // overrides the provider's standard env var
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`
	MaxRetries   int    `toml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff"` // max backoff duration (default "60s")
}

// SessionConfig contains bridge-side session settings.
type SessionConfig struct {
	SystemPrompt string `toml:"system_prompt"`
	MaxTurns     int    `toml:"max_turns"`
	CWD          string `toml:"cwd"`
}

// OutputConfig contains consumer output settings.
type OutputConfig struct {
	Format string `toml:"format"` // text, structured, quiet
}

// TransportConfig contains wire settings.
type TransportConfig struct {
	// Kind selects the duplex transport: pair (in-process), stdio, nats.
	Kind    string `toml:"kind"`
	NATSURL string `toml:"nats_url"`
	// Subjects are named from the consumer's perspective; the serve side
	// swaps them.
	SendSubject    string `toml:"send_subject"`
	RecvSubject    string `toml:"recv_subject"`
	RecvBufferSize int    `toml:"recv_buffer_size"`
	SendBufferSize int    `toml:"send_buffer_size"`
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Debug   bool `toml:"debug"` // include message content in spans
}

// HistoryConfig contains chain persistence and search settings.
type HistoryConfig struct {
	IndexPath string `toml:"index_path"` // empty = in-memory search index
}

// LoggingConfig contains log settings.
type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens:    4096,
			MaxRetries:   5,
			RetryBackoff: "60s",
		},
		Session: SessionConfig{
			MaxTurns: 25,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Transport: TransportConfig{
			Kind: "pair",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// StandardPaths returns config file locations in priority order.
func StandardPaths() []string {
	paths := []string{"agentwire.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentwire", "config.toml"))
	}
	return paths
}

// Load reads the first config file found at a standard path, merged
// over defaults. A missing file is not an error.
func Load() (*Config, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return Default(), nil
}

// LoadFile reads a specific config file merged over defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case "", "text", "structured", "quiet":
	default:
		return fmt.Errorf("output.format must be text, structured, or quiet")
	}
	switch c.Transport.Kind {
	case "", "pair", "stdio", "nats":
	default:
		return fmt.Errorf("transport.kind must be pair, stdio, or nats")
	}
	if c.Transport.Kind == "nats" {
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("transport.nats_url is required for the nats transport")
		}
		if c.Transport.SendSubject == "" || c.Transport.RecvSubject == "" {
			return fmt.Errorf("transport.send_subject and transport.recv_subject are required for the nats transport")
		}
	}
	if c.LLM.RetryBackoff != "" {
		if _, err := time.ParseDuration(c.LLM.RetryBackoff); err != nil {
			return fmt.Errorf("llm.retry_backoff: %w", err)
		}
	}
	return nil
}

// MaxRetryBackoff parses the retry backoff duration.
func (c *Config) MaxRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.LLM.RetryBackoff)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ResolveAPIKey finds the API key for the configured provider:
// llm.api_key_env when set, otherwise the provider's standard variable,
// with LLM_API_KEY as the generic fallback.
func (c *Config) ResolveAPIKey(provider string) string {
	if c.LLM.APIKeyEnv != "" {
		if key := os.Getenv(c.LLM.APIKeyEnv); key != "" {
			return key
		}
	}
	if key := os.Getenv(envVarForProvider(provider)); key != "" {
		return key
	}
	return os.Getenv("LLM_API_KEY")
}

// envVarForProvider returns the conventional env var name for a provider.
func envVarForProvider(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}
