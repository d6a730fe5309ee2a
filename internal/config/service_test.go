package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServiceConfigDefaults(t *testing.T) {
	cfg, err := LoadServiceConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "stroke_report.db", cfg.DBPath)
	assert.Equal(t, DefaultConfigPath, cfg.TuningPath)
	assert.Equal(t, "STROKE_MODEL_API_KEY", cfg.APIKeyEnv)
	assert.Equal(t, LogLevelDiag, cfg.LogLevel)
	assert.Equal(t, 256, cfg.Progress.MaxEntries)
	assert.Equal(t, time.Hour, cfg.Progress.MaxAge)
	assert.True(t, cfg.AdminRoutes)
}

func TestLoadServiceConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stroke-server.yaml"), []byte(`
http:
  listen: "127.0.0.1:9000"
db:
  path: /var/lib/stroke/runs.db
progress:
  max_entries: 16
  max_age: 10m
log:
  level: TRACE
admin:
  enabled: false
`), 0o644))

	cfg, err := LoadServiceConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/var/lib/stroke/runs.db", cfg.DBPath)
	assert.Equal(t, 16, cfg.Progress.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.Progress.MaxAge)
	assert.Equal(t, LogLevelTrace, cfg.LogLevel)
	assert.False(t, cfg.AdminRoutes)
}

func TestLoadServiceConfigEnvOverride(t *testing.T) {
	t.Setenv("STROKE_HTTP_LISTEN", ":7777")
	t.Setenv("STROKE_DB_PATH", "env.db")

	cfg, err := LoadServiceConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, "env.db", cfg.DBPath)
}

func TestLoadServiceConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stroke-server.yaml"), []byte(`
progress:
  max_age: forever
`), 0o644))
	_, err := LoadServiceConfig(dir)
	assert.ErrorContains(t, err, "progress.max_age")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stroke-server.yaml"), []byte(`
log:
  level: verbose
`), 0o644))
	_, err = LoadServiceConfig(dir)
	assert.ErrorContains(t, err, "log.level")
}
