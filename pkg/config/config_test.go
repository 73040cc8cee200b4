package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "runner.yaml"))
	require.NoError(t, err)

	require.Equal(t, "http://ledger.test:8000", cfg.ServerURL)
	require.Equal(t, []string{"features/ledger", "features/tokens"}, cfg.Features)
	require.Equal(t, uint64(7), cfg.Seed)
	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Equal(t, RateLimit{RPS: 20, Burst: 5}, cfg.RateLimit)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "specrunner", cfg.Telemetry.ServiceName)
	require.Equal(t, 1, cfg.Concurrency)

	c, err := cfg.Constraint()
	require.NoError(t, err)
	require.NotNil(t, c)

	level, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: [\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"SPEC_SERVER_URL": "http://other:1",
		"SPEC_SCHEMA":     "s.yaml",
		"SPEC_SEED":       "99",
		"SPEC_TIMEOUT":    "250ms",
		"SPEC_FEATURES":   "a" + string(os.PathListSeparator) + "b",
		"SPEC_TELEMETRY":  "true",
		"SPEC_LOG_LEVEL":  "",
	}))
	require.NoError(t, err)
	require.Equal(t, "http://other:1", cfg.ServerURL)
	require.Equal(t, uint64(99), cfg.Seed)
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
	require.Equal(t, []string{"a", "b"}, cfg.Features)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Errors(t *testing.T) {
	for _, key := range []string{"SPEC_SEED", "SPEC_TIMEOUT", "SPEC_TELEMETRY"} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(env(map[string]string{key: "not-a-value"}))
			require.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Schema = "s.yaml"
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no schema":      func(c *Config) { c.Schema = "" },
		"no server":      func(c *Config) { c.ServerURL = "" },
		"no features":    func(c *Config) { c.Features = nil },
		"zero timeout":   func(c *Config) { c.Timeout = 0 },
		"bad burst":      func(c *Config) { c.RateLimit = RateLimit{RPS: 1, Burst: 0} },
		"bad constraint": func(c *Config) { c.ServerVersion = "not a version" },
		"bad level":      func(c *Config) { c.LogLevel = "loud" },
		"bad format":     func(c *Config) { c.LogFormat = "xml" },
		"replay only":    func(c *Config) { c.Replay = "sha256:00" },
		"no workers":     func(c *Config) { c.Concurrency = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}
