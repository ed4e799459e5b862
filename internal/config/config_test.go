package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.InDelta(t, 0.0001, cfg.Engine.Tolerance, 1e-9)
	assert.Equal(t, "strict", cfg.Engine.ROIPolicy)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: tbm.db
engine:
  roi_policy: permissive
  max_parallel: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tbm.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "permissive", cfg.Engine.ROIPolicy)
	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.0001, cfg.Engine.Tolerance, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TBM_STORE_DRIVER", "postgres")
	t.Setenv("TBM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("TBM_ENGINE_MAX_PARALLEL", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.MaxParallel)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/tbm"
	cfg.Engine.Tolerance = 0.0001
	cfg.Engine.ROIPolicy = "strict"
	cfg.Engine.MaxParallel = 4
	return cfg
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidateMissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateROIPolicy(t *testing.T) {
	cfg := validDefaults()
	cfg.Engine.ROIPolicy = "lenient"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "roi_policy must be strict or permissive")
}

func TestValidateToleranceBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Engine.Tolerance = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.tolerance")

	cfg.Engine.Tolerance = 1.5
	err = cfg.Validate()
	assert.Error(t, err)

	cfg.Engine.Tolerance = 0.001
	assert.NoError(t, cfg.Validate())
}

func TestValidateMaxParallelBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Engine.MaxParallel = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel must be between 1 and 64")

	cfg.Engine.MaxParallel = 65
	err = cfg.Validate()
	assert.Error(t, err)

	cfg.Engine.MaxParallel = 64
	assert.NoError(t, cfg.Validate())
}
