package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
broker:
  type: redis
  url: redis://localhost:6379/0
  max_connections: 20
serializer:
  type: msgpack
dlq:
  enabled: true
  storage_type: file
  file_path: /tmp/dlq.db
  max_retries: 5
  retention_days: 14
publishers:
  - id: candles
    type: market_candle
    enabled: true
    symbols: [AAA, BBB]
    interval_seconds: 60
    rate_limit: 10
  - id: breadth
    type: market_breadth
    enabled: false
subscribers:
  - id: sink
    type: log
    enabled: true
    channels: [market.candle, market.status]
health:
  check_interval: 15
  restart_on_failure: true
  max_restart_attempts: 2
  restart_delay: 1
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Broker.Type)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Broker.URL)
	assert.Equal(t, 20, cfg.Broker.MaxConnections)
	assert.Equal(t, "msgpack", cfg.Serializer.Type)
	assert.True(t, cfg.DLQ.Enabled)
	assert.Equal(t, 5, cfg.DLQ.MaxRetries)
	require.Len(t, cfg.Publishers, 2)
	assert.Equal(t, []string{"AAA", "BBB"}, cfg.Publishers[0].Symbols)
	assert.False(t, cfg.Publishers[1].Enabled)
	require.Len(t, cfg.Subscribers, 1)
	assert.Equal(t, []string{"market.candle", "market.status"}, cfg.Subscribers[0].Channels)
	assert.True(t, cfg.Health.RestartOnFailure)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "publishers: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "inmemory", cfg.Broker.Type)
	assert.Equal(t, "json", cfg.Serializer.Type)
	assert.Equal(t, 3, cfg.DLQ.MaxRetries)
	assert.Equal(t, 7, cfg.DLQ.RetentionDays)
	assert.Equal(t, 30, cfg.Health.CheckIntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "broker: [this is not\n  a mapping\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDuplicateComponentIDs(t *testing.T) {
	path := writeConfig(t, `
publishers:
  - id: same
    type: market_candle
subscribers:
  - id: same
    type: log
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate component id")
}
