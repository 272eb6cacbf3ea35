package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayEnv = []string{
	"RELAY_ADDR", "JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_AUDIENCE", "REDIS_URL",
	"KAFKA_TOPIC", "KAFKA_BROKERS", "RELAY_STORE", "RELAY_NOTIFIER", "LOG_LEVEL",
	"LOG_FORMAT", "RELAY_REQUEST_TIMEOUT", "RELAY_RETENTION", "RELAY_PURGE_INTERVAL",
	"RELAY_PREFIX_MATCH", "RELAY_PREFIX_MIN_LEN", "RELAY_DELIVERY_PREEMPTS",
	"RELAY_NOTIFY_QUEUE_SIZE", "RELAY_NOTIFY_WORKERS", "REDIS_POOL_SIZE",
}

// clearEnv unsets every variable the loader reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range relayEnv {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 30*24*time.Hour, cfg.Relay.Retention)
	assert.True(t, cfg.Relay.DeliveryPreempts)
	assert.Equal(t, 8, cfg.Relay.PrefixMinLen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RELAY_PREFIX_MATCH", "false")
	t.Setenv("RELAY_DELIVERY_PREEMPTS", "false")
	t.Setenv("RELAY_RETENTION", "48h")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Relay.Store)
	assert.False(t, cfg.Relay.PrefixMatch)
	assert.False(t, cfg.Relay.DeliveryPreempts)
	assert.Equal(t, 48*time.Hour, cfg.Relay.Retention)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_TOMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "relay.toml", `
[server]
addr = ":9090"

[relay]
prefix_min_len = 12
purge_interval = "10m"
notifier = "kafka"

[kafka]
brokers = ["k1:9092"]
topic = "pings"

[unknown]
key = 1
`)
	t.Setenv("RELAY_PREFIX_MIN_LEN", "10")

	cfg, err := Load(LoaderOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Relay.PrefixMinLen, "env wins over file")
	assert.Equal(t, 10*time.Minute, cfg.Relay.PurgeInterval)
	assert.Equal(t, NotifierKafka, cfg.Relay.Notifier)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "pings", cfg.Kafka.Topic)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, ".env", "RELAY_NOTIFY_WORKERS=9\n")

	cfg, err := Load(LoaderOptions{EnvFile: path})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Relay.NotifyWorkers)

	_, err = Load(LoaderOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.NoError(t, err, "a missing env file is ignored")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "redis store without url", env: map[string]string{"RELAY_STORE": "redis"}},
		{name: "unknown store", env: map[string]string{"RELAY_STORE": "postgres"}},
		{name: "kafka without brokers", env: map[string]string{"RELAY_NOTIFIER": "kafka"}},
		{name: "bad duration", env: map[string]string{"RELAY_RETENTION": "forever"}},
		{name: "bad bool", env: map[string]string{"RELAY_PREFIX_MATCH": "sometimes"}},
		{name: "zero prefix length", env: map[string]string{"RELAY_PREFIX_MIN_LEN": "0"}},
		{name: "bad file duration", file: "[relay]\nretention = \"a while\"\n"},
		{name: "malformed file", file: "[relay\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := LoaderOptions{}
			if tt.file != "" {
				opts.ConfigPath = writeFile(t, "relay.toml", tt.file)
			}
			_, err := Load(opts)
			assert.Error(t, err)
		})
	}
}
