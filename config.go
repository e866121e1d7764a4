package runjs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryguy/runjs/internal/core"
)

// Config is the file configuration of a runtime.
type Config struct {
	// LogLevel is one of none, error, warn, info, debug.
	LogLevel string `yaml:"log_level"`

	// Script evaluates entries as classic scripts and installs built-ins
	// as globals instead of module specifiers.
	Script bool `yaml:"script"`

	// BaseDir is the directory relative paths resolve against. Defaults to
	// the working directory.
	BaseDir string `yaml:"base_dir"`

	// MaxWorkers bounds concurrently running native jobs per realm.
	MaxWorkers int `yaml:"max_workers"`

	// UnhandledRejections is "strict" (fail the run) or "warn".
	UnhandledRejections string `yaml:"unhandled_rejections"`

	// ShutdownTimeout is how long teardown waits for native jobs.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Cache CacheConfig `yaml:"cache"`
	HTTP  HTTPConfig  `yaml:"http"`
}

// CacheConfig configures the transpile cache.
type CacheConfig struct {
	// Dir holds the SQLite cache database. Empty keeps the cache in memory.
	Dir string `yaml:"dir"`
}

// HTTPConfig configures the http built-in.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	MaxRedirects     int           `yaml:"max_redirects"`
	AllowPrivate     bool          `yaml:"allow_private"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:            "warn",
		BaseDir:             ".",
		MaxWorkers:          16,
		UnhandledRejections: core.RejectionsStrict,
		ShutdownTimeout:     5 * time.Second,
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 10 * 1024 * 1024,
			MaxRedirects:     20,
		},
	}
}

// LoadConfig reads a YAML configuration file. Unset fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.UnhandledRejections {
	case "", core.RejectionsStrict, core.RejectionsWarn:
	default:
		return fmt.Errorf("unhandled_rejections must be %q or %q, got %q",
			core.RejectionsStrict, core.RejectionsWarn, c.UnhandledRejections)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative, got %d", c.MaxWorkers)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	if c.HTTP.Timeout < 0 || c.HTTP.MaxResponseBytes < 0 || c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http limits must not be negative")
	}
	return nil
}

func (c Config) coreConfig() core.Config {
	return core.Config{
		Script:              c.Script,
		BaseDir:             c.BaseDir,
		MaxWorkers:          c.MaxWorkers,
		UnhandledRejections: c.UnhandledRejections,
		ShutdownTimeout:     c.ShutdownTimeout,
		HTTP: core.HTTPConfig{
			Timeout:          c.HTTP.Timeout,
			MaxResponseBytes: c.HTTP.MaxResponseBytes,
			MaxRedirects:     c.HTTP.MaxRedirects,
			AllowPrivate:     c.HTTP.AllowPrivate,
		},
	}
}
