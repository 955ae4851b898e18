package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SHELLGAME_CONFIG", "")
	t.Setenv("USER", "tester")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "tester", c.Player.Name)
	require.Equal(t, 3, c.Game.Caps)
	require.Equal(t, 20*time.Second, c.Game.GameTime)
	require.Zero(t, c.Ping.Interval)
	require.Equal(t, 10*time.Second, c.Ping.Timeout)
	require.Equal(t, ":7070", c.Network.Listen)
	require.Equal(t, 2*time.Second, c.Timers.CancelTimeout)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[player]
name = "shelly"

[game]
caps = 5
game_time = "15s"

[ping]
interval = "2s"
timeout = "6s"
`), 0o644))
	t.Setenv("SHELLGAME_CONFIG", path)
	t.Setenv("SHELLGAME_NETWORK_LISTEN", "127.0.0.1:9000")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "shelly", c.Player.Name)
	require.Equal(t, 5, c.Game.Caps)
	require.Equal(t, 15*time.Second, c.Game.GameTime)
	require.Equal(t, 2*time.Second, c.Ping.Interval)
	require.Equal(t, 6*time.Second, c.Ping.Timeout)
	require.Equal(t, "127.0.0.1:9000", c.Network.Listen)
}

func TestLoadRejectsInvalidCaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[game]\ncaps = 1\n"), 0o644))
	t.Setenv("SHELLGAME_CONFIG", path)

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	c.Game.GameTime = 0
	require.ErrorIs(t, c.Validate(), ErrInvalid)

	c = Default()
	c.Ping.Interval = 5 * time.Second
	c.Ping.Timeout = 5 * time.Second
	require.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("SHELLGAME_CONFIG", path)

	c := Default()
	c.Player.Name = "renamed"
	c.Game.Caps = 4
	c.Game.GameTime = 12 * time.Second
	require.NoError(t, Save(c))

	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Player.Name)
	require.Equal(t, 4, got.Game.Caps)
	require.Equal(t, 12*time.Second, got.Game.GameTime)
	require.Equal(t, c.Timers.CancelTimeout, got.Timers.CancelTimeout)
}
