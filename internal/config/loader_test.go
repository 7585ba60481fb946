package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-arbiter
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-arbiter", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, 64, cfg.Pool.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.Pool.JobTimeout)
	assert.Equal(t, 2*time.Second, cfg.Bridge.StartupDeadline)
	assert.Equal(t, 33, cfg.Router.MaxTier)
	assert.Len(t, cfg.Router.Bands, 4)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
pool:
  workers: 2
  queue_capacity: 5
  job_timeout: 250ms
bridge:
  enabled: true
  command: /usr/bin/intelligence
  startup_deadline: 1s
  call_timeout: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pool.Workers)
	assert.Equal(t, 5, cfg.Pool.QueueCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.JobTimeout)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "/usr/bin/intelligence", cfg.Bridge.Command)
	assert.Equal(t, 3*time.Second, cfg.Bridge.CallTimeout)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("ARBITER_TEST_DB", "/tmp/arbiter-test.db")

	path := writeConfig(t, `
storage:
  path: ${ARBITER_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/arbiter-test.db", cfg.Storage.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }, "pool.workers"},
		{"zero capacity", func(c *Config) { c.Pool.QueueCapacity = 0 }, "pool.queue_capacity"},
		{"bad log level", func(c *Config) { c.Service.LogLevel = "verbose" }, "log_level"},
		{"bridge without command", func(c *Config) { c.Bridge.Enabled = true }, "bridge.command"},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"no bands", func(c *Config) { c.Router.Bands = nil }, "router.bands"},
		{"band past max tier", func(c *Config) {
			c.Router.Bands[3].TierHigh = 99
		}, "router.bands[3]"},
		{"bands not ending at 1", func(c *Config) {
			c.Router.Bands[3].UpTo = 0.9
		}, "up_to: 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}
