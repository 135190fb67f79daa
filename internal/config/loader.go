package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by the loader.
	EnvPrefix = "REPODIGEST_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedSections lists the sub-sections whose environment variables need an
// extra level of nesting: REPODIGEST_DIGEST_DEFAULTS_MAX_FILE_SIZE maps to
// digest.defaults.max_file_size rather than digest.defaults_max_file_size.
var nestedSections = map[string][]string{
	"server": {"rate_limit"},
	"digest": {"defaults"},
}

// Load reads the default config file when present and applies environment
// overrides.
func Load() (*Config, error) {
	path := DefaultPath()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return LoadWithFile(path)
}

// DefaultPath returns ~/.config/repodigest/config.yaml, or "" when the home
// directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "repodigest", "config.yaml")
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REPODIGEST_SERVER_HTTP_PORT, ...)
//  2. YAML config file at configPath, skipped when configPath is empty
//  3. Default()
//
// The file must be a regular file no larger than 1MB that is not writable
// by group or others.
//
// Environment variables map onto keys by dropping the prefix, lowercasing
// and splitting on the first underscore:
//
//	REPODIGEST_SERVER_HTTP_PORT               -> server.http_port
//	REPODIGEST_LOGGING_LEVEL                  -> logging.level
//	REPODIGEST_DIGEST_DEFAULTS_MAX_FILE_SIZE  -> digest.defaults.max_file_size
//	REPODIGEST_DIGEST_ALLOWED_HOSTS=a.com,b.org -> digest.allowed_hosts
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	// Lists replace the defaults instead of merging index by index.
	if k.Exists("digest.allowed_hosts") {
		cfg.Digest.AllowedHosts = nil
	}
	if k.Exists("secrets.allow_list") {
		cfg.Secrets.AllowList = nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps REPODIGEST_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, sub := range nestedSections[section] {
		if rest, found := strings.CutPrefix(field, sub+"_"); found {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/read race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config path is not a regular file")
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
