package runjs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runjs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
script: true
base_dir: /srv/app
unhandled_rejections: warn
shutdown_timeout: 2s
cache:
  dir: /var/cache/runjs
http:
  timeout: 500ms
  max_response_bytes: 1024
  allow_private: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Script)
	assert.Equal(t, "/srv/app", cfg.BaseDir)
	assert.Equal(t, "warn", cfg.UnhandledRejections)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/cache/runjs", cfg.Cache.Dir)
	assert.Equal(t, 500*time.Millisecond, cfg.HTTP.Timeout)
	assert.Equal(t, int64(1024), cfg.HTTP.MaxResponseBytes)
	assert.True(t, cfg.HTTP.AllowPrivate)

	// untouched fields keep defaults
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, 20, cfg.HTTP.MaxRedirects)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: [\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "parsing config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("unhandled_rejections: loud\n"), 0o644))
	_, err = LoadConfig(invalid)
	assert.ErrorContains(t, err, "unhandled_rejections")
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero value", func(c *Config) { *c = Config{} }, true},
		{"none level", func(c *Config) { c.LogLevel = "none" }, true},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"negative workers", func(c *Config) { c.MaxWorkers = -1 }, false},
		{"negative http timeout", func(c *Config) { c.HTTP.Timeout = -time.Second }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, lvl := range []string{"none", "error", "warn", "info", "debug", ""} {
		l, err := NewLogger(lvl)
		require.NoError(t, err, lvl)
		assert.NotNil(t, l)
	}
	_, err := NewLogger("verbose")
	assert.Error(t, err)
}

func TestSetLogger(t *testing.T) {
	assert.NotNil(t, Logger())
	l, err := NewLogger("debug")
	require.NoError(t, err)
	SetLogger(l)
	assert.Same(t, l, Logger())
	SetLogger(nil)
	assert.NotSame(t, l, Logger())
}
