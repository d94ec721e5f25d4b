package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/hotel")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverFile, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, filepath.Join("/srv/hotel", "fiscal", "integrations.json"), cfg.SettingsFile)
	assert.Equal(t, filepath.Join("/srv/hotel", "fiscal", "pool.json"), cfg.PoolPath())
	assert.True(t, cfg.WorkerEnabled)
	assert.False(t, cfg.EmitReceived)
	assert.Equal(t, 10*time.Second, cfg.WorkerInterval)
	assert.Equal(t, 10, cfg.WorkerBatchSize)
	assert.Equal(t, 2, cfg.LegacySnapshotVersion)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=9000\nWORKER_BATCH_SIZE=3\nREMOTE_SYNC_URL=http://peer\nREMOTE_SYNC_TOKEN=tok\n"), 0o600))
	t.Setenv("APP_PORT", "7000")
	t.Setenv("WORKER_BATCH_SIZE", "")
	t.Setenv("REMOTE_SYNC_URL", "")
	t.Setenv("REMOTE_SYNC_TOKEN", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, 10, cfg.WorkerBatchSize, "empty variables count as set for godotenv")
}

func TestLoad_InvalidValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.env")

	t.Run("duration", func(t *testing.T) {
		t.Setenv("WORKER_INTERVAL", "soon")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "WORKER_INTERVAL")
	})
	t.Run("bool", func(t *testing.T) {
		t.Setenv("WORKER_ENABLED", "sometimes")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "WORKER_ENABLED")
	})
	t.Run("driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "STORE_DRIVER")
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", DriverPostgres)
		t.Setenv("DATABASE_URL", "")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "DATABASE_URL")
	})
	t.Run("sync without token", func(t *testing.T) {
		t.Setenv("REMOTE_SYNC_URL", "http://peer")
		t.Setenv("REMOTE_SYNC_TOKEN", "")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "REMOTE_SYNC_TOKEN")
	})
}
