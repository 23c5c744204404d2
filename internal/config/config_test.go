package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "akiles.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

var envKeys = []string{
	"AKILES_LISTEN", "AKILES_BRIDGE_URL", "AKILES_CODEC", "AKILES_AUTH",
	"AKILES_STORE", "AKILES_POLL_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  listen: ":9000"
  poll_interval: 2s
bridge:
  codec: wrp
store:
  path: /var/lib/akiles/sessions.db
simulator:
  no_bluetooth: true
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 2*time.Second, cfg.Server.PollInterval)
	assert.Equal(t, "wrp", cfg.Bridge.Codec)
	assert.Equal(t, "ws://localhost:8090/bridge", cfg.Bridge.URL, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/akiles/sessions.db", cfg.Store.Path)
	assert.True(t, cfg.Simulator.NoBluetooth)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AKILES_LISTEN", ":7000")
	t.Setenv("AKILES_BRIDGE_URL", "ws://host:1/bridge")
	t.Setenv("AKILES_CODEC", "msgpack")
	t.Setenv("AKILES_AUTH", "Bearer t")
	t.Setenv("AKILES_STORE", "/tmp/s.db")
	t.Setenv("AKILES_POLL_INTERVAL", "3s")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(writeFile(t, "server:\n  listen: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "ws://host:1/bridge", cfg.Bridge.URL)
	assert.Equal(t, "msgpack", cfg.Bridge.Codec)
	assert.Equal(t, "Bearer t", cfg.Bridge.Auth)
	assert.Equal(t, "/tmp/s.db", cfg.Store.Path)
	assert.Equal(t, 3*time.Second, cfg.Server.PollInterval)
	assert.Equal(t, LogConfig{Level: "warn", Format: "json"}, cfg.Log)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeFile(t, "server: [1, 2"))
	assert.ErrorContains(t, err, "unmarshal config")

	_, err = Load(writeFile(t, "bridge:\n  codec: protobuf\n"))
	assert.ErrorContains(t, err, "invalid bridge codec")

	_, err = Load(writeFile(t, "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "invalid log format")
}
