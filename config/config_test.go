package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "drive", cfg.Source.Type)
	assert.Equal(t, int64(100), cfg.Drive.PageSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Drive.RetryBaseDelay)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 1000, cfg.Document.ChunkSize)
	assert.Equal(t, 200, cfg.Document.ChunkOverlap)
	assert.Equal(t, 4, cfg.Processing.Concurrency)
	assert.False(t, cfg.Queue.Enable)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
source:
  type: storage
storage:
  type: local
  path: /tmp/deals
database:
  type: postgres
  dsn: ${TEST_DEAL_DSN}
queue:
  enable: true
  concurrency: 8
document:
  chunk_size: 500
  chunk_overlap: 50
processing:
  concurrency: 2
  archive_raw: true
`)
	t.Setenv("TEST_DEAL_DSN", "host=db user=deal dbname=deals")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "storage", cfg.Source.Type)
	assert.Equal(t, "/tmp/deals", cfg.Storage.Path)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "host=db user=deal dbname=deals", cfg.Database.DSN)
	assert.True(t, cfg.Queue.Enable)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 500, cfg.Document.ChunkSize)
	assert.True(t, cfg.Processing.ArchiveRaw)

	// 未设置的项使用默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Queue.RetryLimit)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("STORAGE_SECRET_KEY", "s3cr3t")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "s3cr3t", cfg.Storage.SecretKey)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "document:\n  chunk_size: 100\n  chunk_overlap: 100\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, document.ErrInvalidChunkConfig)

	path = writeConfig(t, "document:\n  chunk_size: 100\n  chunk_overlap: -1\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, document.ErrInvalidChunkConfig)

	path = writeConfig(t, "source:\n  type: ftp\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("DEAL_TEST_VALUE", "expanded")

	assert.Equal(t, "expanded", expandEnv("${DEAL_TEST_VALUE}"))
	assert.Equal(t, "${DEAL_TEST_UNSET}", expandEnv("${DEAL_TEST_UNSET}"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "prefix-${DEAL_TEST_VALUE}", expandEnv("prefix-${DEAL_TEST_VALUE}"))
}
