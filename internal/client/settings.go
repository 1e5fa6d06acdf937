package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName          = "timeclock"
	settingsFileName = "settings.yaml"

	// DefaultServerURL is used when neither the settings file nor a flag names a server.
	DefaultServerURL = "http://localhost:8080"
	// DefaultTimeout bounds every API call.
	DefaultTimeout = 10 * time.Second
)

// Settings are the persisted CLI preferences.
type Settings struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
}

type yamlSettings struct {
	ServerURL      string `yaml:"server_url,omitempty"`
	Token          string `yaml:"token,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// DefaultSettings returns settings for a local server with no stored token.
func DefaultSettings() Settings {
	return Settings{ServerURL: DefaultServerURL, Timeout: DefaultTimeout}
}

// SettingsPath resolves $XDG_CONFIG_HOME/timeclock/settings.yaml (or the platform equivalent).
func SettingsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(configDir, appName, settingsFileName), nil
}

// LoadSettings reads settings from path. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings file: %w", err)
	}

	var fileData yamlSettings
	if err := yaml.Unmarshal(raw, &fileData); err != nil {
		return settings, fmt.Errorf("parse settings yaml: %w", err)
	}

	if fileData.ServerURL != "" {
		settings.ServerURL = fileData.ServerURL
	}
	if fileData.TimeoutSeconds > 0 {
		settings.Timeout = time.Duration(fileData.TimeoutSeconds) * time.Second
	}
	settings.Token = fileData.Token
	return settings, nil
}

// SaveSettings writes settings to path. The file holds a bearer token, so it is private to the user.
func SaveSettings(path string, settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	fileData := yamlSettings{
		ServerURL: settings.ServerURL,
		Token:     settings.Token,
	}
	if settings.Timeout > 0 && settings.Timeout != DefaultTimeout {
		fileData.TimeoutSeconds = int(settings.Timeout / time.Second)
	}

	serialized, err := yaml.Marshal(fileData)
	if err != nil {
		return fmt.Errorf("marshal settings yaml: %w", err)
	}
	if err := os.WriteFile(path, serialized, 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
