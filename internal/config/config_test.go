package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/spaces/internal/config"
)

// TestLoadPeerDefaults verifies the settings of a bare invocation.
func TestLoadPeerDefaults(t *testing.T) {
	cfg, err := config.LoadPeer("spaces", nil)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.ServerURL)
	assert.Equal(t, "Lobby", cfg.Destination)
	assert.Equal(t, uint(3), cfg.DialAttempts)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.Direct)
	assert.Empty(t, cfg.Name)
}

// TestLoadPeerFlagsOverrideEnvironment verifies precedence.
func TestLoadPeerFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SPACES_SERVER", "ws://env.example:9000")
	t.Setenv("SPACES_NAME", "Alice")
	t.Setenv("SPACES_DIRECT", "true")
	t.Setenv("SPACES_ICE_SERVERS", "stun:a.example:3478,stun:b.example:3478")

	cfg, err := config.LoadPeer("spaces", []string{"--name", "Bob", "-l", "Lobby-1234abcd"})
	require.NoError(t, err)

	assert.Equal(t, "ws://env.example:9000/ws", cfg.ServerURL)
	assert.Equal(t, "Bob", cfg.Name)
	assert.Equal(t, "Lobby-1234abcd", cfg.LobbyID)
	assert.True(t, cfg.Direct)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.ICEServers)
}

// TestLoadPeerRejectsInvalidInput covers malformed flags and values.
func TestLoadPeerRejectsInvalidInput(t *testing.T) {
	_, err := config.LoadPeer("spaces", []string{"--dial-attempts", "0"})
	assert.Error(t, err)

	_, err = config.LoadPeer("spaces", []string{"--server", "ws://"})
	assert.Error(t, err)

	_, err = config.LoadPeer("spaces", []string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

// TestLoadServer verifies defaults and the keepalive check.
func TestLoadServer(t *testing.T) {
	cfg, err := config.LoadServer("roomserver", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)

	t.Setenv("SPACES_PONG_WAIT", "2s")
	_, err = config.LoadServer("roomserver", nil)
	assert.Error(t, err)
}

// TestNormalizeServerURL verifies scheme and path handling.
func TestNormalizeServerURL(t *testing.T) {
	testCases := []struct{ in, want string }{
		{"ws://localhost:8080", "ws://localhost:8080/ws"},
		{"wss://rooms.example/ws", "wss://rooms.example/ws"},
		{"https://rooms.example", "wss://rooms.example/ws"},
		{"ws://h/rooms/ws", "ws://h/rooms/ws"},
		{"wss://rooms.example/spaces?token=abc", "wss://rooms.example/spaces?token=abc"},
		{"  rooms.example  ", "wss://rooms.example/ws"},
	}
	for _, tc := range testCases {
		got, err := config.NormalizeServerURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := config.NormalizeServerURL("")
	assert.Error(t, err)
}
