// Package config loads MusicHub runtime configuration from TOML.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds MusicHub runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int           `toml:"config_version"`
	Hub           HubConfig     `toml:"hub"`
	Spotify       SpotifyConfig `toml:"spotify"`
	UI            UIConfig      `toml:"ui"`
	Player        PlayerConfig  `toml:"player"`
	Queue         QueueConfig   `toml:"queue"`
	Keybindings   KeybindConfig `toml:"keybindings"`
}

// HubConfig points at the backend that owns accounts, tokens, and the
// persisted queue.
type HubConfig struct {
	BaseURL        string `toml:"base_url"`
	AccessToken    string `toml:"access_token"`
	NetworkTimeout int    `toml:"network_timeout_ms"`
}

// SpotifyConfig tunes the SDK-backed driver.
type SpotifyConfig struct {
	Enabled    bool   `toml:"enabled"`
	DeviceName string `toml:"device_name"`
	// PollInterval is the session snapshot cadence in milliseconds.
	PollIntervalMs int `toml:"poll_interval_ms"`
	// TokenRefreshMinutes is the background credential refresh interval.
	TokenRefreshMinutes int `toml:"token_refresh_minutes"`
}

type UIConfig struct {
	PageSize int    `toml:"page_size"`
	Theme    string `toml:"theme"`
}

type PlayerConfig struct {
	MPVPath        string `toml:"mpv_path"`
	IPC            string `toml:"ipc"`
	InitialVolume  int    `toml:"initial_volume"`
	NetworkTimeout int    `toml:"network_timeout_ms"`
	VolumeStep     int    `toml:"volume_step"`
}

// QueueConfig holds queue persistence settings.
type QueueConfig struct {
	Persist bool   `toml:"persist"`
	DBPath  string `toml:"db_path"`
}

// KeybindConfig allows customizing keybindings.
type KeybindConfig struct {
	PlayPause  string `toml:"play_pause"`
	NextTrack  string `toml:"next_track"`
	PrevTrack  string `toml:"prev_track"`
	VolumeUp   string `toml:"volume_up"`
	VolumeDown string `toml:"volume_down"`
	Search     string `toml:"search"`
	Queue      string `toml:"queue"`
	Remove     string `toml:"remove"`
	MoveUp     string `toml:"move_up"`
	MoveDown   string `toml:"move_down"`
	SaveOrder  string `toml:"save_order"`
	Help       string `toml:"help"`
	Quit       string `toml:"quit"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	base := filepath.Join(dir, "musichub")
	if runtime.GOOS == "windows" {
		base = filepath.Join(dir, "MusicHub")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Hub.NetworkTimeout == 0 {
		cfg.Hub.NetworkTimeout = 8000
	}
	if cfg.Spotify.PollIntervalMs == 0 {
		cfg.Spotify.PollIntervalMs = 1000
	}
	if cfg.Spotify.TokenRefreshMinutes == 0 {
		cfg.Spotify.TokenRefreshMinutes = 30
	}
	if cfg.UI.PageSize == 0 {
		cfg.UI.PageSize = 50
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "default"
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.InitialVolume == 0 {
		cfg.Player.InitialVolume = 70
	}
	if cfg.Player.VolumeStep == 0 {
		cfg.Player.VolumeStep = 5
	}
	if cfg.Player.NetworkTimeout == 0 {
		cfg.Player.NetworkTimeout = 8000
	}
	if cfg.Keybindings.PlayPause == "" {
		cfg.Keybindings.PlayPause = "space"
	}
	if cfg.Keybindings.NextTrack == "" {
		cfg.Keybindings.NextTrack = "n"
	}
	if cfg.Keybindings.PrevTrack == "" {
		cfg.Keybindings.PrevTrack = "p"
	}
	if cfg.Keybindings.VolumeUp == "" {
		cfg.Keybindings.VolumeUp = "+"
	}
	if cfg.Keybindings.VolumeDown == "" {
		cfg.Keybindings.VolumeDown = "-"
	}
	if cfg.Keybindings.Search == "" {
		cfg.Keybindings.Search = "/"
	}
	if cfg.Keybindings.Queue == "" {
		cfg.Keybindings.Queue = "e"
	}
	if cfg.Keybindings.Remove == "" {
		cfg.Keybindings.Remove = "d"
	}
	if cfg.Keybindings.MoveUp == "" {
		cfg.Keybindings.MoveUp = "K"
	}
	if cfg.Keybindings.MoveDown == "" {
		cfg.Keybindings.MoveDown = "J"
	}
	if cfg.Keybindings.SaveOrder == "" {
		cfg.Keybindings.SaveOrder = "w"
	}
	if cfg.Keybindings.Help == "" {
		cfg.Keybindings.Help = "?"
	}
	if cfg.Keybindings.Quit == "" {
		cfg.Keybindings.Quit = "q,ctrl+c"
	}
	// Missing parses as false; treat missing as "use default".
	if !cfg.Queue.Persist {
		cfg.Queue.Persist = true
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.Hub.BaseURL == "" {
		return errors.New("hub.base_url is required")
	}
	u, err := url.Parse(cfg.Hub.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("hub.base_url %q is not a valid URL", cfg.Hub.BaseURL)
	}
	if cfg.Player.InitialVolume < 0 || cfg.Player.InitialVolume > 100 {
		return fmt.Errorf("player.initial_volume must be 0-100")
	}
	if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
			}
		}
	}
	return nil
}

// DeadlineContext returns a context with the hub network timeout applied.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	d := time.Duration(c.Hub.NetworkTimeout) * time.Millisecond
	if d == 0 {
		d = 8 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
