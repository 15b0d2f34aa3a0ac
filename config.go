package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const defaultWSURL = "wss://api.kanari.app/v1/checkin"

// appConfig is the kanari.toml file shape. Flags override file values,
// environment overrides both for credentials.
type appConfig struct {
	WSURL        string `toml:"ws_url"`
	APIKey       string `toml:"api_key"`
	Device       string `toml:"device"`
	Timezone     string `toml:"timezone"`
	StorePath    string `toml:"store_path"`
	LogPath      string `toml:"log_path"`
	ArchiveAudio bool   `toml:"archive_audio"`
}

func loadConfig(path string) (appConfig, error) {
	cfg := appConfig{WSURL: defaultWSURL}
	if path == "" {
		path = "kanari.toml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	return cfg, nil
}

// applyEnv lets deployment credentials win over anything checked into a
// config file.
func (c *appConfig) applyEnv() {
	if v := os.Getenv("KANARI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("KANARI_WS_URL"); v != "" {
		c.WSURL = v
	}
}

func (c *appConfig) storePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "kanari")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "kanari.db"), nil
}
