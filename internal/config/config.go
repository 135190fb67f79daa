// Package config provides configuration loading for repodigest.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and REPODIGEST_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

// Config holds the complete repodigest configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Digest    DigestConfig    `koanf:"digest"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Secrets   SecretsConfig   `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string          `koanf:"host"`
	Port            int             `koanf:"http_port"`
	ShutdownTimeout Duration        `koanf:"shutdown_timeout"`
	RequestTimeout  Duration        `koanf:"request_timeout"` // 0 disables
	BodyLimit       string          `koanf:"body_limit"`      // echo size notation, e.g. "64K"
	RateLimit       RateLimitConfig `koanf:"rate_limit"`

	// TrustedProxies lists the CIDR ranges whose X-Forwarded-For header is
	// believed. Empty means the peer address identifies the client.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// DigestConfig holds pipeline configuration.
type DigestConfig struct {
	// AllowedHosts are the Git hosts a repository URL may point at.
	AllowedHosts []string `koanf:"allowed_hosts"`

	// WorkspaceDir is the parent of per-request workspaces. Empty means
	// the system temporary directory.
	WorkspaceDir string `koanf:"workspace_dir"`

	// WorkspacePrefix is prepended to every workspace directory name.
	WorkspacePrefix string `koanf:"workspace_prefix"`

	// Token is the default credential used by the CLI for private sources.
	Token Secret `koanf:"token"`

	Defaults DefaultsConfig `koanf:"defaults"`
}

// DefaultsConfig holds the option values applied when a request omits them.
type DefaultsConfig struct {
	IncludeTests  bool   `koanf:"include_tests"`
	IncludeDocs   bool   `koanf:"include_docs"`
	SmartFilter   bool   `koanf:"smart_filter"`
	MaxFileSize   int64  `koanf:"max_file_size"`
	OutputFormat  string `koanf:"output_format"`
	RedactSecrets bool   `koanf:"redact_secrets"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// SecretsConfig tunes the content redactor.
type SecretsConfig struct {
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`
}

var (
	outputFormats = []string{"structured", "plaintext", "markdown", "json", "text"}
	logLevels     = []string{"trace", "debug", "info", "warn", "error"}
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
			RequestTimeout:  Duration(5 * time.Minute),
			BodyLimit:       "64K",
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     1,
				Burst:   10,
			},
		},
		Digest: DigestConfig{
			AllowedHosts:    []string{"github.com", "gitlab.com", "bitbucket.org"},
			WorkspacePrefix: "repodigest-",
			Defaults: DefaultsConfig{
				IncludeTests: true,
				IncludeDocs:  true,
				SmartFilter:  true,
				MaxFileSize:  51200,
				OutputFormat: "markdown",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "repodigest",
			SampleRate:  1.0,
		},
		Secrets: SecretsConfig{
			RedactionString: "[REDACTED]",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be positive, got %v", c.Server.RateLimit.RPS)
		}
		if c.Server.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1, got %d", c.Server.RateLimit.Burst)
		}
	}

	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid server.trusted_proxies entry %q: %w", cidr, err)
		}
	}

	if len(c.Digest.AllowedHosts) == 0 {
		return errors.New("digest.allowed_hosts cannot be empty")
	}
	for _, h := range c.Digest.AllowedHosts {
		if strings.TrimSpace(h) == "" {
			return errors.New("digest.allowed_hosts contains an empty host")
		}
	}
	if c.Digest.WorkspacePrefix == "" || strings.ContainsAny(c.Digest.WorkspacePrefix, `/\`) {
		return fmt.Errorf("invalid digest.workspace_prefix %q", c.Digest.WorkspacePrefix)
	}
	if c.Digest.Defaults.MaxFileSize <= 0 {
		return fmt.Errorf("digest.defaults.max_file_size must be positive, got %d", c.Digest.Defaults.MaxFileSize)
	}
	if !slices.Contains(outputFormats, c.Digest.Defaults.OutputFormat) {
		return fmt.Errorf("unknown digest.defaults.output_format %q", c.Digest.Defaults.OutputFormat)
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
