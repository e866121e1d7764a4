package core

import "time"

// Unhandled rejection policies.
const (
	RejectionsStrict = "strict" // an unhandled rejection fails the run
	RejectionsWarn   = "warn"   // unhandled rejections are logged only
)

// Config holds realm configuration. The root package maps its YAML config
// onto this struct.
type Config struct {
	Script              bool          // evaluate the entry as a classic script, capabilities as globals
	BaseDir             string        // directory relative entry specifiers resolve against
	MaxWorkers          int           // max concurrent native jobs
	UnhandledRejections string        // RejectionsStrict or RejectionsWarn
	ShutdownTimeout     time.Duration // how long Close waits for native jobs
	HTTP                HTTPConfig
}

// HTTPConfig configures the http capability.
type HTTPConfig struct {
	Timeout          time.Duration // per-request timeout
	MaxResponseBytes int64         // max response body size
	MaxRedirects     int           // redirects followed before failing
	AllowPrivate     bool          // allow requests to loopback/private addresses
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 16
	}
	if c.UnhandledRejections == "" {
		c.UnhandledRejections = RejectionsStrict
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		c.HTTP.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.HTTP.MaxRedirects <= 0 {
		c.HTTP.MaxRedirects = 20
	}
}
