package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, info, err := LoadConfigFrom(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.False(t, info.PortSpecified)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 20000, cfg.Export.MaxRowsPerFile)
	assert.Equal(t, 0.6, cfg.Import.MinSimilarity)
	assert.Equal(t, 2*time.Hour, cfg.Import.SubmitTimeout())
}

func TestLoadConfigFrom_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9001

[data]
db_driver = "sqlite"

[import]
batch_size = 50
retry_initial_ms = 10
`), 0644))

	cfg, info, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.True(t, info.PortSpecified)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Data.DBDriver)
	assert.Equal(t, 50, cfg.Import.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Import.RetryInitial())
	// 未出现的键保持默认值
	assert.Equal(t, 5, cfg.Import.RetryAttempts)

	t.Setenv("FLOWMERGE_PORT", "9100")
	t.Setenv("FLOWMERGE_DB_DRIVER", "sqlite3")
	dataDir := t.TempDir()
	t.Setenv("FLOWMERGE_DATA_DIR", dataDir)
	cfg, _, err = LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Data.DBDriver)

	dir, err := EnsureDataDir(cfg)
	require.NoError(t, err)
	assert.Equal(t, dataDir, dir)
	assert.DirExists(t, filepath.Join(dir, "exports"))
	assert.DirExists(t, filepath.Join(dir, "backups"))
	assert.Equal(t, filepath.Join(dataDir, "flowmerge.db"), GetDataPath(cfg, "", cfg.Data.DBFile))
}

func TestSaveConfigTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.Server.Port = 8080
	require.NoError(t, SaveConfigTo(cfg, path))

	loaded, info, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.True(t, info.PortSpecified)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigFrom_InvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))
	_, _, err := LoadConfigFrom(path)
	assert.Error(t, err)
}
