package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvPanelURL, "")
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PanelURL != defaultPanelURL {
		t.Errorf("PanelURL = %q", cfg.PanelURL)
	}
	if cfg.DatabasePath != filepath.Join(tempDir, defaultDatabaseFile) {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.StaleTimeoutDuration() != 45*time.Second || cfg.IntentTimeoutDuration() != 30*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.StaleTimeoutDuration(), cfg.IntentTimeoutDuration())
	}
	if cfg.InitialBackoffDuration() != time.Second || cfg.MaxBackoffDuration() != 30*time.Second {
		t.Errorf("backoff = %v..%v", cfg.InitialBackoffDuration(), cfg.MaxBackoffDuration())
	}

	if _, err := os.Stat(filepath.Join(tempDir, defaultConfigName)); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvPanelURL, "")
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvLogLevel, "")

	data, _ := json.Marshal(map[string]any{"panel_url": "https://panel.example.com", "stale_timeout": 10})
	if err := os.WriteFile(filepath.Join(tempDir, defaultConfigName), data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PanelURL != "https://panel.example.com" || cfg.StaleTimeout != 10 {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.DegradedAfter != defaultDegradedAfter || cfg.ConsoleRetention != defaultConsoleRetention {
		t.Errorf("defaults not filled: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvPanelURL, "https://env.example.com")
	t.Setenv(EnvAPIKey, "ptlc_env")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PanelURL != "https://env.example.com" || cfg.APIKey != "ptlc_env" || cfg.LogLevel != "debug" {
		t.Errorf("env not applied: %+v", cfg)
	}

	// Overrides are not written back.
	data, _ := os.ReadFile(filepath.Join(tempDir, defaultConfigName))
	var onDisk Config
	json.Unmarshal(data, &onDisk)
	if onDisk.APIKey != "" {
		t.Error("API key from the environment was persisted")
	}
}

func TestIsDev(t *testing.T) {
	t.Setenv(EnvDev, "true")
	if !IsDev() {
		t.Error("IsDev = false with PANELCTL_DEV=true")
	}
	t.Setenv(EnvDev, "")
	if IsDev() {
		t.Error("IsDev = true without PANELCTL_DEV")
	}
}
