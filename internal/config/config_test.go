package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFromAppliesDefaultsAndOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
storage: memory
engine:
  timezone: Europe/Berlin
sync:
  interval: 30m
`)
	writeFile(t, dir, "test.yaml", `
storage: postgres
db:
  host: db.internal
  password: ${TEST_DB_PASSWORD}
`)
	writeFile(t, dir, "secrets.env", "TEST_DB_PASSWORD=s3cret\n")

	cfg, err := LoadFrom("test", dir)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "Europe/Berlin", cfg.Engine.Timezone)
	assert.True(t, cfg.Engine.EmptyDayComplete)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTTL)
	assert.Equal(t, 30*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.LookbackDays)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.MQ.OutboxInterval)
	assert.Equal(t, 100, cfg.MQ.OutboxBatchSize)
	assert.Equal(t, 7, cfg.PunchList.ArchiveAfterDays)
	assert.Equal(t, 24*time.Hour, cfg.PunchList.ArchiveInterval)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "storage: memory\n")
	t.Setenv("STORAGE", "postgres")
	t.Setenv("APP_TIMEZONE", "Asia/Shanghai")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "Asia/Shanghai", cfg.Engine.Timezone)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadFromRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "storage: sqlite\n")
	_, err := LoadFrom("local", dir)
	assert.ErrorContains(t, err, "unknown storage")

	writeFile(t, dir, "base.yaml", "engine:\n  timezone: Mars/Olympus\n")
	_, err = LoadFrom("local", dir)
	assert.ErrorContains(t, err, "invalid engine.timezone")

	writeFile(t, dir, "base.yaml", "mq:\n  outbox_batch_size: 0\n")
	_, err = LoadFrom("local", dir)
	assert.ErrorContains(t, err, "outbox")

	writeFile(t, dir, "base.yaml", "punch_list:\n  archive_interval: 0s\n")
	_, err = LoadFrom("local", dir)
	assert.ErrorContains(t, err, "punch_list")

	writeFile(t, dir, "base.yaml", "engine:\n  tz: UTC\n")
	_, err = LoadFrom("local", dir)
	assert.Error(t, err)
}

func TestRepositoryConfigFilesLoad(t *testing.T) {
	for _, env := range []string{"local", "docker"} {
		cfg, err := LoadFrom(env, filepath.Join("..", "..", "config"))
		require.NoError(t, err, env)
		assert.NotEmpty(t, cfg.Server.Port)
	}
}
