package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"iotpanel/dashboard"
	"iotpanel/ledger"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "iotpanel"
	// DefaultListenAddr keeps the dashboard on loopback.
	DefaultListenAddr = "127.0.0.1:8080"
	// DefaultConfirmTimeoutSec bounds how long a submission waits for confirmation.
	DefaultConfirmTimeoutSec = 60
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// keypairFileName is the solana-keygen style signer key file under keys/.
	keypairFileName = "signer.json"
)

// Environment overrides applied on top of config.json.
const (
	EnvDataDir       = "IOTPANEL_DATA_DIR"
	EnvEndpoint      = "IOTPANEL_ENDPOINT"
	EnvCommitment    = "IOTPANEL_COMMITMENT"
	EnvProgramID     = "IOTPANEL_PROGRAM_ID"
	EnvListenAddr    = "IOTPANEL_LISTEN_ADDR"
	EnvLogLevel      = "IOTPANEL_LOG_LEVEL"
	EnvKeyPassphrase = "IOTPANEL_KEY_PASSPHRASE"
)

// PanelConfig contains persistent dashboard settings.
type PanelConfig struct {
	Endpoint          string `json:"endpoint"`
	Commitment        string `json:"commitment"`
	ProgramID         string `json:"program_id"`
	KeypairPath       string `json:"keypair_path"`
	ListenAddr        string `json:"listen_addr"`
	PayloadMode       string `json:"payload_mode"`
	DeviceSource      string `json:"device_source"`
	ConfirmTimeoutSec int    `json:"confirm_timeout_sec"`
	Advertise         bool   `json:"advertise"`
	InstanceName      string `json:"instance_name"`
	LogLevel          string `json:"log_level"`
	LogFormat         string `json:"log_format"`

	// dataDir backs local:// endpoints that name no database file.
	dataDir string
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If IOTPANEL_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
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
func Load(path string) (*PanelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg PanelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *PanelConfig) error {
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

// LoadOrCreate ensures directories and config exist, applies environment overrides and
// returns the config together with its path and data directory.
func LoadOrCreate() (*PanelConfig, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	}

	cfg.dataDir = dataDir
	// Overrides are not persisted.
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", "", err
	}

	return cfg, cfgPath, dataDir, nil
}

// Validate checks enum fields, the program ID and the listen address.
func (c *PanelConfig) Validate() error {
	connection := c.Connection()
	if err := connection.Validate(); err != nil {
		return fmt.Errorf("invalid connection settings: %w", err)
	}
	if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		return fmt.Errorf("invalid program_id %q: %w", c.ProgramID, err)
	}
	if _, err := ledger.ParsePayloadMode(c.PayloadMode); err != nil {
		return err
	}
	if _, err := dashboard.ParseDeviceSource(c.DeviceSource); err != nil {
		return fmt.Errorf("invalid device_source: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	if c.ConfirmTimeoutSec <= 0 {
		return fmt.Errorf("confirm_timeout_sec must be > 0, got %d", c.ConfirmTimeoutSec)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	return nil
}

// Level parses log_level into a slog level.
func (c *PanelConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Connection returns the ledger connection settings.
func (c *PanelConfig) Connection() ledger.ConnectionConfig {
	cfg := ledger.DefaultConnectionConfig()
	cfg.Endpoint = c.Endpoint
	cfg.Commitment = ledger.Commitment(c.Commitment)
	cfg.DataDir = c.dataDir
	if c.ConfirmTimeoutSec > 0 {
		cfg.ConfirmTimeout = time.Duration(c.ConfirmTimeoutSec) * time.Second
	}
	return cfg
}

func defaultConfig(dataDir string) *PanelConfig {
	return &PanelConfig{
		Endpoint:          ledger.DefaultEndpoint,
		Commitment:        string(ledger.CommitmentConfirmed),
		ProgramID:         solana.NewWallet().PublicKey().String(),
		KeypairPath:       filepath.Join(dataDir, "keys", keypairFileName),
		ListenAddr:        DefaultListenAddr,
		PayloadMode:       string(ledger.PayloadMemo),
		DeviceSource:      string(dashboard.DeviceSourceSimulated),
		ConfirmTimeoutSec: DefaultConfirmTimeoutSec,
		Advertise:         false,
		InstanceName:      defaultInstanceName(),
		LogLevel:          "info",
		LogFormat:         "text",
		dataDir:           dataDir,
	}
}

func normalizeDefaults(cfg *PanelConfig, dataDir string) bool {
	defaults := defaultConfig(dataDir)
	updated := false

	fill := func(field *string, value string) {
		if strings.TrimSpace(*field) == "" {
			*field = value
			updated = true
		}
	}
	fill(&cfg.Endpoint, defaults.Endpoint)
	fill(&cfg.Commitment, defaults.Commitment)
	fill(&cfg.ProgramID, defaults.ProgramID)
	fill(&cfg.KeypairPath, defaults.KeypairPath)
	fill(&cfg.ListenAddr, defaults.ListenAddr)
	fill(&cfg.PayloadMode, defaults.PayloadMode)
	fill(&cfg.DeviceSource, defaults.DeviceSource)
	fill(&cfg.InstanceName, defaults.InstanceName)
	fill(&cfg.LogLevel, defaults.LogLevel)
	fill(&cfg.LogFormat, defaults.LogFormat)

	if cfg.ConfirmTimeoutSec <= 0 {
		cfg.ConfirmTimeoutSec = DefaultConfirmTimeoutSec
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *PanelConfig) {
	cfg.Endpoint = envOrDefault(EnvEndpoint, cfg.Endpoint)
	cfg.Commitment = envOrDefault(EnvCommitment, cfg.Commitment)
	cfg.ProgramID = envOrDefault(EnvProgramID, cfg.ProgramID)
	cfg.ListenAddr = envOrDefault(EnvListenAddr, cfg.ListenAddr)
	cfg.LogLevel = envOrDefault(EnvLogLevel, cfg.LogLevel)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultInstanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "IoT Panel"
}
