package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
	assert.Equal(t, "0.0.0.0:8911", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
  write_timeout: 5m
models_path: /models
device: cuda
warmup:
  timeout: 30s
session:
  idle_timeout: 1h
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, int64(1<<30), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 1<<28, cfg.Server.MaxVoxels)
	assert.Equal(t, "/models", cfg.ModelsPath)
	assert.Equal(t, "cuda", cfg.Device)
	assert.Equal(t, "**/model.yaml", cfg.ModelGlob)
	assert.Equal(t, 30*time.Second, cfg.Warmup.Timeout)
	assert.Equal(t, time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.PruneInterval)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_EmptyValuesFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: \"\"\nmodel_glob: \"\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, "**/model.yaml", cfg.ModelGlob)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: tpu\n"), 0o644))

	_, err := Load(path)

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.ModelsPath = "/srv/models"
	cfg.Session.IdleTimeout = 15 * time.Minute
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)
}
