package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WSURL != defaultWSURL {
		t.Errorf("ws_url = %q, want default", cfg.WSURL)
	}
	if cfg.APIKey != "" {
		t.Errorf("api_key = %q, want empty", cfg.APIKey)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanari.toml")
	body := `
ws_url = "wss://example.test/checkin"
device = "USB Mic"
timezone = "America/New_York"
archive_audio = true
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WSURL != "wss://example.test/checkin" {
		t.Errorf("ws_url = %q", cfg.WSURL)
	}
	if cfg.Device != "USB Mic" {
		t.Errorf("device = %q", cfg.Device)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
	if !cfg.ArchiveAudio {
		t.Error("archive_audio not set")
	}
}

func TestLoadConfigBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanari.toml")
	if err := os.WriteFile(path, []byte("ws_url = [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv("KANARI_API_KEY", "env-key")
	t.Setenv("KANARI_WS_URL", "wss://env.test/ws")

	cfg := appConfig{APIKey: "file-key", WSURL: "wss://file.test/ws"}
	cfg.applyEnv()
	if cfg.APIKey != "env-key" {
		t.Errorf("api_key = %q, want env override", cfg.APIKey)
	}
	if cfg.WSURL != "wss://env.test/ws" {
		t.Errorf("ws_url = %q, want env override", cfg.WSURL)
	}
}
