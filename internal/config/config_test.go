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

	assert.Equal(t, "cache", cfg.Cache.BaseDir)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "archeo.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "pixtral-large-latest", cfg.DocAI.Model)
	assert.Equal(t, 150, cfg.DocAI.MaxPagesPerCall)
	assert.Equal(t, 300, cfg.DocAI.TimeoutSecs)
	assert.Equal(t, 20, cfg.Convert.BatchSize)
	assert.Equal(t, 0, cfg.Convert.BorderPages)
	assert.Equal(t, 512, cfg.Chunk.MaxTokens)
	assert.Equal(t, "anonymous", cfg.FTP.User)
	assert.Equal(t, 30, cfg.FTP.TimeoutSecs)
	assert.Equal(t, 4, cfg.FTP.Concurrency)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 8080, cfg.Server.Port)
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
  driver: postgres
  database_url: postgres://localhost/archeo
convert:
  batch_size: 10
  border_pages: 24
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/archeo", cfg.Store.DatabaseURL)
	assert.Equal(t, 10, cfg.Convert.BatchSize)
	assert.Equal(t, 24, cfg.Convert.BorderPages)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 512, cfg.Chunk.MaxTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ARCHEO_STORE_DRIVER", "sqlite")
	t.Setenv("ARCHEO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("ARCHEO_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
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
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "archeo.db"
	cfg.Server.Port = 8080
	cfg.Convert.BatchSize = 20
	cfg.Chunk.MaxTokens = 512
	cfg.FTP.Concurrency = 4
	return cfg
}

func TestValidateIngest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.DocAI.Key = "docai-key"

	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "docai.key is required")
}

func TestValidateFetch_MissingHost(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("fetch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ftp.host is required")
}

func TestValidateExtract_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("extract")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.FTP.Concurrency = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ftp.concurrency must be between 1 and 32")

	cfg.FTP.Concurrency = 33
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.FTP.Concurrency = 32
	assert.NoError(t, cfg.Validate("serve"))
}
