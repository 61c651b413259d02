package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Library  LibraryConfig  `yaml:"library"`
	Database DatabaseConfig `yaml:"database"`
	Watch    WatchConfig    `yaml:"watch"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LibraryConfig holds the bundle library location. A root stored in the
// settings database takes precedence over Path.
type LibraryConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig holds filesystem watch and debounce timings.
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// ProbeTimeout bounds the check that fsnotify events arrive for the
	// root; roots that fail it are polled. Zero disables the check.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ScannerConfig holds library scan settings.
type ScannerConfig struct {
	Workers int `yaml:"workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Library: LibraryConfig{
			Path: defaultLibraryPath(),
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Watch: WatchConfig{
			Debounce:     500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			PollInterval: 5 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Scanner: ScannerConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func defaultLibraryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "VirtualBuddy")
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "vbuddy.db"
	}
	return filepath.Join(dir, "vbuddy", "vbuddy.db")
}

// Path returns the config file location: VB_CONFIG_PATH when set,
// otherwise vbuddy/config.yaml under the user config directory.
func Path() string {
	if v := os.Getenv("VB_CONFIG_PATH"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vbuddy", "config.yaml")
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("VB_LIBRARY_PATH"); v != "" {
		c.Library.Path = v
	}
	if v := os.Getenv("VB_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("VB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VB_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("VB_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"VB_DEBOUNCE", &c.Watch.Debounce},
		{"VB_MAX_DELAY", &c.Watch.MaxDelay},
		{"VB_POLL_INTERVAL", &c.Watch.PollInterval},
		{"VB_PROBE_TIMEOUT", &c.Watch.ProbeTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("VB_SCAN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VB_SCAN_WORKERS: %w", err)
		}
		c.Scanner.Workers = n
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Library.Path != "" {
		c.Library.Path = filepath.Clean(c.Library.Path)
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive: %s", c.Watch.Debounce)
	}
	if c.Watch.MaxDelay < c.Watch.Debounce {
		return fmt.Errorf("max delay %s is shorter than debounce %s", c.Watch.MaxDelay, c.Watch.Debounce)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.Watch.PollInterval)
	}
	if c.Watch.ProbeTimeout < 0 {
		return fmt.Errorf("probe timeout must not be negative: %s", c.Watch.ProbeTimeout)
	}
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner workers must be at least 1: %d", c.Scanner.Workers)
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	switch c.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}
