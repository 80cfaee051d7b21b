package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "sqlite", c.StoreBackend)
	assert.Equal(t, 4, c.DifficultyValue())
	assert.Equal(t, 1, c.BatchSize)
	assert.Equal(t, time.Duration(0), c.SolveTimeoutDuration())
	assert.Equal(t, 30*time.Second, c.ResultsCacheDuration())
	assert.Same(t, c, Get())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "data", c.DataDir)
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := writeConfig(t, `{"port": 9000, "store_backend": "leveldb", "difficulty": 0, "solve_timeout": "2s"}`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, "leveldb", c.StoreBackend)
	assert.Equal(t, 0, c.DifficultyValue(), "explicit zero difficulty is kept")
	assert.Equal(t, 2*time.Second, c.SolveTimeoutDuration())
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 20, c.MaxBackups)
	assert.Equal(t, 5.0, c.WriteRateLimit)
	assert.Equal(t, 10, c.WriteRateBurst)
}

func TestLoadConfigRateLimitCanBeDisabled(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, `{"write_rate_limit": 0}`))
	require.NoError(t, err)
	assert.Zero(t, c.WriteRateLimit)
	assert.Equal(t, 10, c.WriteRateBurst)
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := writeConfig(t, `{"data_dir": "/var/lib/vcm"}`)
	t.Setenv(EnvConfigFile, path)

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vcm", c.DataDir)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"syntax":     `{"port": `,
		"difficulty": `{"difficulty": 65}`,
		"timeout":    `{"solve_timeout": "soon"}`,
		"cache ttl":  `{"results_cache_ttl": "-"}`,
		"rate":       `{"write_rate_limit": -1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolvePort(t *testing.T) {
	c := &Config{Port: 8080}

	t.Setenv("PORT", "")
	assert.Equal(t, 8080, c.ResolvePort())

	t.Setenv("PORT", "9090")
	assert.Equal(t, 9090, c.ResolvePort())

	t.Setenv("PORT", "not-a-port")
	assert.Equal(t, 8080, c.ResolvePort())
}
