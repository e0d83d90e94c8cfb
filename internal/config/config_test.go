package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)

	conf, err := NewConfig(v)
	require.NoError(t, err)

	assert.NotEmpty(t, conf.User.ID)
	assert.True(t, conf.AutoReconnect)
	assert.Equal(t, 5*time.Second, conf.ReconnectDelay)
	assert.Equal(t, 30*time.Second, conf.HeartbeatInterval)
	assert.Equal(t, time.Second, conf.SyncInterval)
	assert.Equal(t, 100, conf.MaxHistorySize)
	assert.Equal(t, DefaultStunServers, conf.RTC.ICEServers)
	assert.Equal(t, uint16(50000), conf.RTC.ICEPortRangeStart)
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.yaml")
	content := []byte(`
env: production
control_url: wss://example.com/ws
user:
  id: user-1
  name: Ann
  color: "#ff0000"
reconnect_delay: 2s
max_history_size: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)

	conf, err := NewConfig(v)
	require.NoError(t, err)

	assert.True(t, conf.Env.IsProduction())
	assert.Equal(t, "wss://example.com/ws", conf.ControlURL)
	assert.Equal(t, "user-1", string(conf.User.ID))
	assert.Equal(t, "Ann", conf.User.Name)
	assert.Equal(t, 2*time.Second, conf.ReconnectDelay)
	assert.Equal(t, 10, conf.MaxHistorySize)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("LIVELOOK_SERVER_RELAY", "redis")
	t.Setenv("LIVELOOK_REDIS_ADDR", "redis:6379")

	v, err := NewViper("")
	require.NoError(t, err)

	conf, err := NewServerConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "redis", conf.Relay)
	assert.Equal(t, "redis:6379", conf.RedisAddr)
	assert.Equal(t, ":8080", conf.Address)
}

func TestNewWebRTCConfig(t *testing.T) {
	conf, err := NewWebRTCConfig(RTCConfig{
		ICEServers:        []string{"stun:stun.example.com:3478"},
		ICEPortRangeStart: 40000,
		ICEPortRangeEnd:   40100,
	})
	require.NoError(t, err)
	require.Len(t, conf.Configuration.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, conf.Configuration.ICEServers[0].URLs)

	_, err = NewWebRTCConfig(RTCConfig{})
	assert.NoError(t, err)
}
