// Package config loads runner configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Config holds runner configuration.
type Config struct {
	ServerURL     string        `yaml:"server_url"`
	FaucetKey     string        `yaml:"faucet_key"`
	Schema        string        `yaml:"schema"`
	Features      []string      `yaml:"features"`
	Tags          string        `yaml:"tags,omitempty"`
	Seed          uint64        `yaml:"seed"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	ServerVersion string        `yaml:"server_version,omitempty"`
	Concurrency   int           `yaml:"concurrency"`
	TapeDir       string        `yaml:"tape_dir,omitempty"`
	TapeStore     string        `yaml:"tape_store,omitempty"`
	Replay        string        `yaml:"replay,omitempty"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	Telemetry     Telemetry     `yaml:"telemetry"`
}

// RateLimit caps outgoing requests. A zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Telemetry configures OTLP export of step traces and metrics.
type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerURL:   "http://localhost:8000",
		Features:    []string{"features"},
		Timeout:     30 * time.Second,
		RateLimit:   RateLimit{RPS: 0, Burst: 1},
		Concurrency: 1,
		LogLevel:    "INFO",
		LogFormat:   "text",
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			ServiceName: "specrunner",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies SPEC_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SPEC_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SPEC_SERVER_URL", &c.ServerURL)
	str("SPEC_FAUCET_KEY", &c.FaucetKey)
	str("SPEC_SCHEMA", &c.Schema)
	str("SPEC_TAGS", &c.Tags)
	str("SPEC_SERVER_VERSION", &c.ServerVersion)
	str("SPEC_TAPE_DIR", &c.TapeDir)
	str("SPEC_TAPE_STORE", &c.TapeStore)
	str("SPEC_REPLAY", &c.Replay)
	str("SPEC_LOG_LEVEL", &c.LogLevel)
	str("SPEC_LOG_FORMAT", &c.LogFormat)
	str("SPEC_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if v, ok := lookup("SPEC_FEATURES"); ok && v != "" {
		c.Features = strings.Split(v, string(os.PathListSeparator))
	}
	if v, ok := lookup("SPEC_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SPEC_SEED: %w", err)
		}
		c.Seed = seed
	}
	if v, ok := lookup("SPEC_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SPEC_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v, ok := lookup("SPEC_TELEMETRY"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SPEC_TELEMETRY: %w", err)
		}
		c.Telemetry.Enabled = enabled
	}
	return nil
}

// Validate checks field combinations that would only fail later.
func (c *Config) Validate() error {
	if c.ServerURL == "" && c.Replay == "" {
		return fmt.Errorf("config: server_url is required unless replaying a tape")
	}
	if c.Schema == "" {
		return fmt.Errorf("config: schema is required")
	}
	if len(c.Features) == 0 {
		return fmt.Errorf("config: at least one features path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	if c.RateLimit.RPS < 0 || (c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1) {
		return fmt.Errorf("config: rate_limit needs rps >= 0 and burst >= 1")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1")
	}
	if c.ServerVersion != "" {
		if _, err := semver.NewConstraint(c.ServerVersion); err != nil {
			return fmt.Errorf("config: server_version: %w", err)
		}
	}
	if c.Replay != "" && c.TapeStore == "" {
		return fmt.Errorf("config: replay requires tape_store")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// Constraint returns the parsed server version constraint, or nil if none is
// configured.
func (c *Config) Constraint() (*semver.Constraints, error) {
	if c.ServerVersion == "" {
		return nil, nil
	}
	return semver.NewConstraint(c.ServerVersion)
}
