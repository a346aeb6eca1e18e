package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
engine:
  position_update_interval: 5s
  enable_auto_trading: true
rate_limits:
  polygon: 100
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Engine.PositionUpdateInterval)
	assert.Equal(t, 300*time.Second, cfg.Engine.SignalGenerationInterval)
	assert.Equal(t, 300*time.Second, cfg.Engine.SignalExpirationTime)
	assert.Equal(t, 2*time.Second, cfg.Engine.ShutdownGrace)
	assert.True(t, cfg.Engine.EnableAutoTrading)
	assert.True(t, cfg.Engine.AutoSellEnabled)
	assert.Equal(t, map[string]int{"alpaca": 200, "polygon": 100, "news": 1000}, cfg.RateLimits)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "engine.db", cfg.Storage.Path)
	assert.True(t, cfg.Broker.Paper)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: "engine:\n  signal_interval: 5s\n"},
		{name: "bad duration", body: "engine:\n  signal_expiration_time: soon\n"},
		{name: "interval too short", body: "engine:\n  signal_generation_interval: 10ms\n"},
		{name: "bad level", body: "logging:\n  level: loud\n"},
		{name: "bad port", body: "server:\n  port: 70000\n"},
		{name: "negative limit", body: "rate_limits:\n  news: -1\n"},
		{name: "bad url", body: "broker:\n  base_url: not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{"ALPACA_API_KEY": "k", "POLYGON_API_KEY": "p", "NEWS_API_KEY": ""}
	cfg := Default()
	cfg.News.APIKey = "from-file"

	cfg.applyEnv(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	})

	assert.Equal(t, "k", cfg.Broker.Key)
	assert.Equal(t, "p", cfg.MarketData.APIKey)
	assert.Equal(t, "from-file", cfg.News.APIKey, "empty env value keeps the file value")
}
