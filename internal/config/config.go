// Package config loads the voldiag YAML configuration.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/moolen/voldiag/internal/logging"
)

// Default values applied before a file is loaded.
const (
	DefaultLogLevel         = "info"
	DefaultMetricsAddress   = ":9090"
	DefaultResolveCacheSize = 256
	DefaultMaxRelatedDepth  = 3
)

// Config holds all configuration for the application
type Config struct {
	// LogLevel is the default logging level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// PackageLogLevels overrides LogLevel per logger name
	PackageLogLevels map[string]string `yaml:"package_log_levels"`

	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Graph   GraphConfig   `yaml:"graph"`
	Rules   RulesConfig   `yaml:"rules"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC endpoint for trace export
	Endpoint string `yaml:"endpoint"`
	// TLSCAPath is the path to the CA certificate for TLS verification
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// SampleRatio is the fraction of traces kept; 0 keeps every trace
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// GraphConfig tunes the knowledge graph.
type GraphConfig struct {
	// ResolveCacheSize is the entity resolution cache size; negative disables it
	ResolveCacheSize int `yaml:"resolve_cache_size"`
	// MaxRelatedDepth caps related-entity traversals
	MaxRelatedDepth int `yaml:"max_related_depth"`
}

// RulesConfig points at additional pattern rules.
type RulesConfig struct {
	ExtraRulesFile string `yaml:"extra_rules_file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:         DefaultLogLevel,
		PackageLogLevels: map[string]string{},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
		Graph: GraphConfig{
			ResolveCacheSize: DefaultResolveCacheSize,
			MaxRelatedDepth:  DefaultMaxRelatedDepth,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults and
// validates the result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	// Logger names contain dots, so keys are delimited with "::" to keep
	// package_log_levels entries flat.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	// Fields absent from the file keep their default values.
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.LogLevel) {
		return NewConfigError(fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	for pkg, level := range c.PackageLogLevels {
		if strings.TrimSpace(pkg) == "" {
			return NewConfigError("package_log_levels keys must not be empty")
		}
		if !logging.ValidLevel(level) {
			return NewConfigError(fmt.Sprintf("package_log_levels.%s: invalid level %q", pkg, level))
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return NewConfigError(fmt.Sprintf("tracing.sample_ratio %g must be within [0,1]", c.Tracing.SampleRatio))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return NewConfigError(fmt.Sprintf("metrics.address %q is not host:port", c.Metrics.Address))
		}
	}

	if c.Graph.MaxRelatedDepth < 1 {
		return NewConfigError("graph.max_related_depth must be at least 1")
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
