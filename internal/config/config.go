package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid config")

// Config holds application configuration.
type Config struct {
	Player   PlayerConfig
	Game     GameConfig
	Ping     PingConfig
	Network  NetworkConfig
	Database DatabaseConfig
	Log      LogConfig
	Timers   TimersConfig
}

// PlayerConfig identifies the local player to opponents.
type PlayerConfig struct {
	Name string
}

// GameConfig holds round settings offered by the hiding side.
type GameConfig struct {
	Caps     int
	GameTime time.Duration `mapstructure:"game_time"`
}

// PingConfig controls the session keepalive. An interval of zero disables it.
type PingConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NetworkConfig holds the host listener settings.
type NetworkConfig struct {
	Listen string
	Path   string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LogConfig holds the log file used while the TUI owns the terminal.
type LogConfig struct {
	Path string
}

// TimersConfig bounds how long shutdown waits on a timer cancellation.
type TimersConfig struct {
	CancelTimeout time.Duration `mapstructure:"cancel_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	home := os.Getenv("HOME")
	return Config{
		Player:   PlayerConfig{Name: defaultName()},
		Game:     GameConfig{Caps: 3, GameTime: 20 * time.Second},
		Ping:     PingConfig{Interval: 0, Timeout: 10 * time.Second},
		Network:  NetworkConfig{Listen: ":7070", Path: "/ws"},
		Database: DatabaseConfig{Path: filepath.Join(home, ".local", "share", "shellgame", "shellgame.db")},
		Log:      LogConfig{Path: filepath.Join(home, ".local", "state", "shellgame", "shellgame.log")},
		Timers:   TimersConfig{CancelTimeout: 2 * time.Second},
	}
}

// Load reads configuration from file and env. Env var overrides use prefix SHELLGAME_.
func Load() (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("player.name", d.Player.Name)
	v.SetDefault("game.caps", d.Game.Caps)
	v.SetDefault("game.game_time", d.Game.GameTime)
	v.SetDefault("ping.interval", d.Ping.Interval)
	v.SetDefault("ping.timeout", d.Ping.Timeout)
	v.SetDefault("network.listen", d.Network.Listen)
	v.SetDefault("network.path", d.Network.Path)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("timers.cancel_timeout", d.Timers.CancelTimeout)

	v.SetConfigType("toml")
	if p := os.Getenv("SHELLGAME_CONFIG"); p != "" {
		v.SetConfigFile(p)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "shellgame"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SHELLGAME")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings no round can be played with.
func (c Config) Validate() error {
	switch {
	case c.Game.Caps < 2 || c.Game.Caps > 9:
		return fmt.Errorf("%w: game.caps must be between 2 and 9, got %d", ErrInvalid, c.Game.Caps)
	case c.Game.GameTime < time.Second:
		return fmt.Errorf("%w: game.game_time must be at least 1s, got %s", ErrInvalid, c.Game.GameTime)
	case c.Ping.Interval < 0:
		return fmt.Errorf("%w: ping.interval must not be negative", ErrInvalid)
	case c.Ping.Interval > 0 && c.Ping.Timeout <= c.Ping.Interval:
		return fmt.Errorf("%w: ping.timeout must exceed ping.interval", ErrInvalid)
	case c.Timers.CancelTimeout <= 0:
		return fmt.Errorf("%w: timers.cancel_timeout must be positive", ErrInvalid)
	}
	return nil
}

// Path returns the config file Load reads and Save writes.
func Path() string {
	if p := os.Getenv("SHELLGAME_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "shellgame", "config.toml")
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("player.name", cfg.Player.Name)
	v.Set("game.caps", cfg.Game.Caps)
	v.Set("game.game_time", cfg.Game.GameTime.String())
	v.Set("ping.interval", cfg.Ping.Interval.String())
	v.Set("ping.timeout", cfg.Ping.Timeout.String())
	v.Set("network.listen", cfg.Network.Listen)
	v.Set("network.path", cfg.Network.Path)
	v.Set("database.path", cfg.Database.Path)
	v.Set("log.path", cfg.Log.Path)
	v.Set("timers.cancel_timeout", cfg.Timers.CancelTimeout.String())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "player"
}
