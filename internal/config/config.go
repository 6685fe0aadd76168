// Package config loads gpsh settings from defaults, an optional YAML file,
// an optional .env file and GPSH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvLibDir         = "GPSH_LIB_DIR"
	EnvBuildDir       = "GPSH_BUILD_DIR"
	EnvLogLevel       = "GPSH_LOG_LEVEL"
	EnvShareMode      = "GPSH_SHARE_MODE"
	EnvCrashReporting = "GPSH_SENTRY"
	EnvSentryDSN      = "GPSH_SENTRY_DSN"
)

// Share modes accepted in Reader.ShareMode.
const (
	ShareShared    = "shared"
	ShareExclusive = "exclusive"
)

// Config is the full application configuration.
type Config struct {
	Libraries      LibrariesConfig      `yaml:"libraries"`
	Reader         ReaderConfig         `yaml:"reader"`
	Logging        LoggingConfig        `yaml:"logging"`
	CrashReporting CrashReportingConfig `yaml:"crash_reporting"`
	Console        ConsoleConfig        `yaml:"console"`
}

// LibrariesConfig names the support-library directories added to the
// library search path before any reader is opened.
type LibrariesConfig struct {
	LibDir   string `yaml:"lib_dir"`
	BuildDir string `yaml:"build_dir"`
}

// ReaderConfig holds PC/SC connection settings.
type ReaderConfig struct {
	ShareMode string `yaml:"share_mode"`
}

// LoggingConfig defines log verbosity and retention.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	BufferSize int    `yaml:"buffer_size"`
}

// CrashReportingConfig is the opt-in Sentry setup.
type CrashReportingConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ConsoleConfig controls the interactive prompt.
type ConsoleConfig struct {
	Prompt string `yaml:"prompt"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Libraries: LibrariesConfig{
			LibDir:   "lib",
			BuildDir: "build",
		},
		Reader: ReaderConfig{
			ShareMode: ShareShared,
		},
		Logging: LoggingConfig{
			Level:      "info",
			BufferSize: 1000,
		},
		Console: ConsoleConfig{
			Prompt: "gp> ",
		},
	}
}

// Load reads a YAML file on top of Defaults. An empty path returns Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- path comes from the operator's --config flag
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnvironment applies GPSH_* overrides to cfg.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvLibDir); v != "" {
		cfg.Libraries.LibDir = v
	}
	if v := os.Getenv(EnvBuildDir); v != "" {
		cfg.Libraries.BuildDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvShareMode); v != "" {
		cfg.Reader.ShareMode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvCrashReporting); v != "" {
		cfg.CrashReporting.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvSentryDSN); v != "" {
		cfg.CrashReporting.DSN = v
	}
}

// Validate checks values that would otherwise fail later at connect time.
func (c *Config) Validate() error {
	switch c.Reader.ShareMode {
	case ShareShared, ShareExclusive:
	default:
		return fmt.Errorf("invalid reader share_mode %q (want %q or %q)", c.Reader.ShareMode, ShareShared, ShareExclusive)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	if c.Logging.BufferSize <= 0 {
		return fmt.Errorf("logging buffer_size must be positive, got %d", c.Logging.BufferSize)
	}
	return nil
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
