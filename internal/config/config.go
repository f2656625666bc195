// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are unset
const (
	DefaultBaseURL         = "https://api.margincalc.io/v1"
	DefaultTimeoutSeconds  = 30
	DefaultMaxAttempts     = 1 // 1 attempt means no retry
	DefaultPollIntervalMs  = 500
	DefaultPollTimeoutMins = 30
	DefaultLogLevel        = "INFO"
)

// Config represents the complete client configuration structure
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	HTTP      HTTPConfig      `yaml:"http"`
	Polling   PollingConfig   `yaml:"polling"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServiceConfig identifies the remote margin calculation service
type ServiceConfig struct {
	BaseURL  string `yaml:"base_url"`
	TokenURL string `yaml:"token_url"` // Optional override; defaults to base_url + /auth/token
}

// AuthConfig carries the caller's credential
type AuthConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret Secret `yaml:"api_secret"`
}

// HTTPConfig contains transport pipeline settings
type HTTPConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxAttempts    int     `yaml:"max_attempts"`    // Total send attempts per request; 1 = no retry
	RateLimit      float64 `yaml:"rate_limit"`      // Requests per second; <= 0 disables the limiter
	CircuitBreaker bool    `yaml:"circuit_breaker"` // Opt-in breaker after the retry policy
}

// PollingConfig contains calculation poll loop settings
type PollingConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	TimeoutMins int `yaml:"timeout_mins"` // Bound for async polling only
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset fields with production defaults
func (c *Config) applyDefaults() {
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = DefaultBaseURL
	}
	if c.Service.TokenURL == "" {
		c.Service.TokenURL = strings.TrimRight(c.Service.BaseURL, "/") + "/auth/token"
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = DefaultMaxAttempts
	}
	if c.Polling.IntervalMs <= 0 {
		c.Polling.IntervalMs = DefaultPollIntervalMs
	}
	if c.Polling.TimeoutMins <= 0 {
		c.Polling.TimeoutMins = DefaultPollTimeoutMins
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = DefaultLogLevel
	}
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.APIKey == "" {
		errs = append(errs, "auth.api_key is required")
	}
	if c.Auth.APISecret == "" {
		errs = append(errs, "auth.api_secret is required")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("service.base_url must be an http(s) URL, got %q", c.Service.BaseURL))
	}
	if c.HTTP.MaxAttempts > 10 {
		errs = append(errs, fmt.Sprintf("http.max_attempts must be <= 10, got %d", c.HTTP.MaxAttempts))
	}

	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		errs = append(errs, fmt.Sprintf("system.log_level must be one of DEBUG INFO WARN ERROR FATAL, got %q", c.System.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMs) * time.Millisecond
}

// PollTimeout returns the async poll bound as a duration
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Polling.TimeoutMins) * time.Minute
}

// HTTPTimeout returns the per-request transport timeout
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
