package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultConfigName   = "config.json"
	defaultDatabaseFile = "panelctl.db"
	defaultPanelURL     = "http://localhost:8088"

	defaultStaleTimeout      = 45
	defaultIntentTimeout     = 30
	defaultCorrelationWindow = 5
	defaultInitialBackoff    = 1
	defaultMaxBackoff        = 30
	defaultSafetyMargin      = 60
	defaultDegradedAfter     = 5
	defaultConsoleRetention  = 1000
)

const (
	EnvPanelURL = "PANELCTL_URL"
	EnvAPIKey   = "PANELCTL_API_KEY"
	EnvDev      = "PANELCTL_DEV"
	EnvLogLevel = "PANELCTL_LOG_LEVEL"
)

// Config is the client configuration. Timeouts are in seconds.
type Config struct {
	PanelURL     string `json:"panel_url"`
	APIKey       string `json:"api_key,omitempty"`
	DatabasePath string `json:"database_path"`
	LogLevel     string `json:"log_level"`

	StaleTimeout      int `json:"stale_timeout"`
	IntentTimeout     int `json:"intent_timeout"`
	CorrelationWindow int `json:"correlation_window"`
	InitialBackoff    int `json:"initial_backoff"`
	MaxBackoff        int `json:"max_backoff"`
	SafetyMargin      int `json:"safety_margin"`
	DegradedAfter     int `json:"degraded_after"`
	ConsoleRetention  int `json:"console_retention"`
}

// IsDev reports whether the development config directory is in use.
func IsDev() bool {
	v := strings.ToLower(os.Getenv(EnvDev))
	return v == "1" || v == "true" || v == "yes"
}

// Dir returns the config directory under the user's config dir.
func Dir() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	appName := "panelctl"
	if IsDev() {
		appName = "panelctl-dev"
	}
	return filepath.Join(userConfigDir, appName), nil
}

// LoadConfig reads config.json from configDir, creating it with
// defaults on first run, then applies environment overrides.
func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, defaultConfigName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg, err := createDefaultConfig(configPath, configDir)
		if err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	cfg.fillDefaults(configDir)
	cfg.applyEnv()
	return &cfg, nil
}

func createDefaultConfig(configPath, configDir string) (*Config, error) {
	var cfg Config
	cfg.fillDefaults(configDir)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) fillDefaults(configDir string) {
	if c.PanelURL == "" {
		c.PanelURL = defaultPanelURL
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(configDir, defaultDatabaseFile)
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	setDefault(&c.StaleTimeout, defaultStaleTimeout)
	setDefault(&c.IntentTimeout, defaultIntentTimeout)
	setDefault(&c.CorrelationWindow, defaultCorrelationWindow)
	setDefault(&c.InitialBackoff, defaultInitialBackoff)
	setDefault(&c.MaxBackoff, defaultMaxBackoff)
	setDefault(&c.SafetyMargin, defaultSafetyMargin)
	setDefault(&c.DegradedAfter, defaultDegradedAfter)
	setDefault(&c.ConsoleRetention, defaultConsoleRetention)
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPanelURL); v != "" {
		c.PanelURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) StaleTimeoutDuration() time.Duration      { return seconds(c.StaleTimeout) }
func (c *Config) IntentTimeoutDuration() time.Duration     { return seconds(c.IntentTimeout) }
func (c *Config) CorrelationWindowDuration() time.Duration { return seconds(c.CorrelationWindow) }
func (c *Config) InitialBackoffDuration() time.Duration    { return seconds(c.InitialBackoff) }
func (c *Config) MaxBackoffDuration() time.Duration        { return seconds(c.MaxBackoff) }
func (c *Config) SafetyMarginDuration() time.Duration      { return seconds(c.SafetyMargin) }
