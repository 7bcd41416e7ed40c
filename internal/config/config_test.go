package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	require.Error(t, err)

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "kernel", cfg.Backend)
	assert.Equal(t, 1024, cfg.Collector().ProcessCapacity)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bmond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: emulated
data_dir: ${STATE}/bmon
thresholds:
  file_access: 20
sweep:
  interval: 5s
nats:
  url: nats://localhost:4222
`), 0o600))

	cfg, err := Load(path, env(map[string]string{
		"STATE":                   "/srv",
		"BMON_NET_CONN_THRESHOLD": "7",
		"BMON_LOG_FORMAT":         "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, "emulated", cfg.Backend)
	assert.Equal(t, "/srv/bmon", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.ProcessIdleTTL)
	assert.Equal(t, "console", cfg.Log.Format)

	cc := cfg.Collector()
	assert.Equal(t, uint64(20), cc.FileAccessThreshold)
	assert.Equal(t, uint64(7), cc.NetConnThreshold)
	assert.Zero(t, cc.SyscallVolumeThreshold)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"backend", func(c *Config) { c.Backend = "ebpf" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"capacity", func(c *Config) { c.Capacity.Files = -1 }},
		{"nats level", func(c *Config) { c.NATS.MinLevel = "loud" }},
		{"scenario on kernel", func(c *Config) { c.Scenario = "x.yaml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(env(map[string]string{"BMON_FILE_ACCESS_THRESHOLD": "many"})))
}
