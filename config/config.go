package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "sealmsg"
	// DefaultPollSeconds is how often the inbox is polled for new messages.
	DefaultPollSeconds = 5
	// DefaultReconcileSeconds is how often delivery status is re-checked.
	DefaultReconcileSeconds = 10
	// MinIntervalSeconds is the floor for both timers.
	MinIntervalSeconds = 1
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent local-client settings.
type ClientConfig struct {
	Identity            string `json:"identity"`
	SessionID           string `json:"session_id"`
	SigningKeyPath      string `json:"signing_key_path"`
	AgreementKeyPath    string `json:"agreement_key_path"`
	PollSeconds         int    `json:"poll_seconds"`
	ReconcileSeconds    int    `json:"reconcile_seconds"`
	LogLevel            string `json:"log_level"`
	AnnouncePresence    bool   `json:"announce_presence"`
	DiscoveryListenPort int    `json:"discovery_listen_port"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SEALMSG_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("SEALMSG_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	identity := "sealmsg user"
	if host, err := os.Hostname(); err == nil && host != "" {
		identity = host
	}

	keysDir := filepath.Join(dataDir, "keys")
	return &ClientConfig{
		Identity:         identity,
		SessionID:        uuid.NewString(),
		SigningKeyPath:   filepath.Join(keysDir, "ed25519_private.pem"),
		AgreementKeyPath: filepath.Join(keysDir, "x25519_private.pem"),
		PollSeconds:      DefaultPollSeconds,
		ReconcileSeconds: DefaultReconcileSeconds,
		LogLevel:         "info",
		AnnouncePresence: true,
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false
	keysDir := filepath.Join(dataDir, "keys")

	if cfg.Identity == "" {
		identity := "sealmsg user"
		if host, err := os.Hostname(); err == nil && host != "" {
			identity = host
		}
		cfg.Identity = identity
		updated = true
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
		updated = true
	}

	if cfg.SigningKeyPath == "" {
		cfg.SigningKeyPath = filepath.Join(keysDir, "ed25519_private.pem")
		updated = true
	}

	if cfg.AgreementKeyPath == "" {
		cfg.AgreementKeyPath = filepath.Join(keysDir, "x25519_private.pem")
		updated = true
	}

	if cfg.PollSeconds < MinIntervalSeconds {
		cfg.PollSeconds = DefaultPollSeconds
		updated = true
	}

	if cfg.ReconcileSeconds < MinIntervalSeconds {
		cfg.ReconcileSeconds = DefaultReconcileSeconds
		updated = true
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		updated = true
	}

	if cfg.DiscoveryListenPort < 0 {
		cfg.DiscoveryListenPort = 0
		updated = true
	}

	return updated
}
