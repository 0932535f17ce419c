package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/halom/internal/adapters/repository"
)

// Environment variable names.
const (
	EnvPrefix = "HALOM_"
	EnvConfig = "HALOM_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if HALOM_CONFIG is set
//  3. env (prefix HALOM_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfig))
}

// LoadFile is Load with an explicit file path; an empty path skips the file layer.
func LoadFile(_ context.Context, path string) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Environment variables: HALOM_ADDR -> addr, HALOM_CONSENSUS__STRATEGY ->
	// consensus.strategy. Single underscores are kept to match koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The config key itself is not a setting.
	k.Delete("config")

	cfg := *base
	// A configured source list replaces the defaults instead of merging
	// into them element by element.
	if k.Exists("sources") {
		cfg.Sources = nil
	}
	if k.Exists("validation.required_sources") {
		cfg.Validation.RequiredSources = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	if c.Schedule == "" {
		return invalid("schedule must not be empty")
	}
	if c.RootPower < 2 || c.RootPower > 10 {
		return invalid("root_power %d outside [2,10]", c.RootPower)
	}
	if c.WorkerCount < 0 {
		return invalid("worker_count must not be negative")
	}

	cc, err := c.ConsensusConfig()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Validation.MinValue >= c.Validation.MaxValue {
		return invalid("validation.min_value %v must be below max_value %v", c.Validation.MinValue, c.Validation.MaxValue)
	}
	if c.Validation.MaxChange < 0 {
		return invalid("validation.max_change must not be negative")
	}
	if c.Nodes.MinNodes < 1 {
		return invalid("nodes.min_nodes must be at least 1")
	}
	if c.Nodes.MaxDeviation <= 0 {
		return invalid("nodes.max_deviation must be positive")
	}
	if c.Alert.FailureThreshold < 1 {
		return invalid("alert.failure_threshold must be at least 1")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", repository.BackendMemory:
	case repository.BackendBadger:
		if c.Store.Path == "" {
			return invalid("store.path is required for badger")
		}
	case repository.BackendPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn is required for postgres")
		}
	default:
		return invalid("unknown store.backend %q", c.Store.Backend)
	}

	names := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if names[s.Name] {
			return invalid("duplicate source %q", s.Name)
		}
		names[s.Name] = true
	}
	for _, r := range c.Validation.RequiredSources {
		if !names[r] {
			return invalid("required source %q is not configured", r)
		}
	}
	return nil
}
