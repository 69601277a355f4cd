// Package config loads the agentbridge configuration from a JSON file,
// merging the file over built-in defaults so partial configs stay valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "agentbridge"

// GatewaySettings selects the gateway endpoint and the session to attach to.
type GatewaySettings struct {
	URL        string `json:"url"`
	SessionKey string `json:"session_key"`
	Role       string `json:"role,omitempty"`

	Scopes []string `json:"scopes,omitempty"`
	Caps   []string `json:"caps,omitempty"`

	MinProtocol int `json:"min_protocol,omitempty"`
	MaxProtocol int `json:"max_protocol,omitempty"`

	PingIntervalSeconds   int `json:"ping_interval_seconds"`
	PollIntervalSeconds   int `json:"poll_interval_seconds"`
	GraceWindowSeconds    int `json:"grace_window_seconds"`
	RetryDelaySeconds     int `json:"retry_delay_seconds"`
	HandshakeTimeoutSecs  int `json:"handshake_timeout_seconds"`
	QuickTimeoutSeconds   int `json:"quick_timeout_seconds"`
	HistoryLimit          int `json:"history_limit"`
	SessionsActiveMinutes int `json:"sessions_active_minutes,omitempty"`
	SessionsLimit         int `json:"sessions_limit,omitempty"`
	SessionsMessageLimit  int `json:"sessions_message_limit,omitempty"`
}

// AuthSettings locates the bearer token. The token value itself never lives
// in the config file.
type AuthSettings struct {
	TokenEnvVar string `json:"token_env_var"`
	TokenFile   string `json:"token_file,omitempty"`
}

// ClientSettings identifies this installation to the gateway.
type ClientSettings struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// StateSettings controls snapshot externalization.
type StateSettings struct {
	DatabasePath string `json:"database_path"`
	HistoryLimit int    `json:"history_limit"`
}

// Config is the whole application configuration.
type Config struct {
	Gateway GatewaySettings `json:"gateway"`
	Auth    AuthSettings    `json:"auth"`
	Client  ClientSettings  `json:"client"`
	State   StateSettings   `json:"state"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if cfgHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); cfgHome != "" {
			return filepath.Join(cfgHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Gateway: GatewaySettings{
			URL:                  "ws://127.0.0.1:18789",
			SessionKey:           "agent:default:main",
			Role:                 "client",
			Scopes:               []string{"chat", "sessions"},
			MinProtocol:          1,
			MaxProtocol:          1,
			PingIntervalSeconds:  30,
			PollIntervalSeconds:  30,
			GraceWindowSeconds:   3,
			RetryDelaySeconds:    5,
			HandshakeTimeoutSecs: 10,
			QuickTimeoutSeconds:  45,
			HistoryLimit:         50,
			SessionsMessageLimit: 1,
		},
		Auth: AuthSettings{
			TokenEnvVar: "AGENTBRIDGE_TOKEN",
		},
		Client: ClientSettings{
			ID:   "agentbridge",
			Mode: "companion",
		},
		State: StateSettings{
			DatabasePath: filepath.Join(stateDir, "state.db"),
			HistoryLimit: 200,
		},
		LogLevel: "info",
		LogPath:  filepath.Join(stateDir, appName+".log"),
	}
}

// Load reads the config at path on top of the defaults. A missing file is
// not an error; it just yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFallbacks restores critical fields an explicit config may have blanked.
func (c *Config) applyFallbacks() {
	def := DefaultConfig()
	if c.Gateway.SessionKey == "" {
		c.Gateway.SessionKey = def.Gateway.SessionKey
	}
	if c.Gateway.Role == "" {
		c.Gateway.Role = def.Gateway.Role
	}
	if c.Gateway.HistoryLimit <= 0 {
		c.Gateway.HistoryLimit = def.Gateway.HistoryLimit
	}
	if c.Client.ID == "" {
		c.Client.ID = def.Client.ID
	}
	if c.State.HistoryLimit <= 0 {
		c.State.HistoryLimit = def.State.HistoryLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate rejects configs the client cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url must be set")
	}
	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return fmt.Errorf("gateway.url must use ws:// or wss://, got %q", c.Gateway.URL)
	}
	if c.Gateway.MinProtocol > c.Gateway.MaxProtocol {
		return fmt.Errorf("gateway.min_protocol %d exceeds max_protocol %d",
			c.Gateway.MinProtocol, c.Gateway.MaxProtocol)
	}
	return nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetConfigPath returns the default config file location.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
