// Package config loads the server configuration: where templates and runs
// are stored, how detection is parallelized, and the detection settings
// themselves.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file, and environment variables.
//
//	db_path: symbols.db
//	http_addr: ":8088"
//	workers: 8
//	page_timeout: 2m
//	default_dpi: 300
//	log_level: info
//	detection:
//	  match_thresh: 0.8
//	  symbols:
//	    weld: {match_thresh: 0.85}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

// Environment variables consulted by FromEnv.
const (
	EnvConfig   = "SYMBOL_MCP_CONFIG"
	EnvDB       = "SYMBOL_MCP_DB"
	EnvHTTPAddr = "SYMBOL_MCP_HTTP_ADDR"
	EnvLogLevel = "SYMBOL_MCP_LOG_LEVEL"
)

// Config is the full server configuration.
type Config struct {
	// DBPath is the SQLite file holding templates and runs. ":memory:"
	// keeps everything in process.
	DBPath string `yaml:"db_path"`

	// HTTPAddr enables the HTTP API when non-empty.
	HTTPAddr string `yaml:"http_addr"`

	// Workers bounds concurrent (page, symbol) units; 0 uses every CPU.
	Workers int `yaml:"workers"`

	// PageTimeout bounds the time spent on one page; 0 disables it.
	PageTimeout time.Duration `yaml:"page_timeout"`

	// DefaultDPI is assumed for pages and templates that carry none.
	DefaultDPI float64 `yaml:"default_dpi"`

	LogLevel string `yaml:"log_level"`

	Detection detection.Config `yaml:"detection"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "symbols.db",
		LogLevel:  "warn",
		Detection: detection.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// FromEnv loads the file named by SYMBOL_MCP_CONFIG, or the defaults when it
// is unset, then applies the remaining environment overrides.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(EnvConfig); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDB); v != "" {
		c.DBPath = v
	}
	if v := getenv(EnvHTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the server settings and the detection block.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.PageTimeout < 0 {
		return fmt.Errorf("page_timeout must be >= 0, got %s", c.PageTimeout)
	}
	if c.DefaultDPI < 0 {
		return fmt.Errorf("default_dpi must be >= 0, got %g", c.DefaultDPI)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	return nil
}

// Level returns the configured log level, warn when unset.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels. The empty
// string means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", s)
	}
}
