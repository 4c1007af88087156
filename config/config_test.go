package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"iotpanel/dashboard"
	"iotpanel/ledger"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvDataDir, tempDir)

	firstCfg, firstPath, dataDir, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if dataDir != tempDir {
		t.Fatalf("expected data dir %q, got %q", tempDir, dataDir)
	}
	if firstCfg.ProgramID == "" {
		t.Fatalf("expected generated program ID")
	}
	if firstCfg.Endpoint != ledger.DefaultEndpoint {
		t.Fatalf("expected default endpoint, got %q", firstCfg.Endpoint)
	}
	if firstCfg.Commitment != "confirmed" {
		t.Fatalf("expected confirmed commitment, got %q", firstCfg.Commitment)
	}
	if firstCfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected listen addr %q, got %q", DefaultListenAddr, firstCfg.ListenAddr)
	}
	if firstCfg.DeviceSource != string(dashboard.DeviceSourceSimulated) {
		t.Fatalf("expected simulated device source, got %q", firstCfg.DeviceSource)
	}
	if firstCfg.PayloadMode != "memo" {
		t.Fatalf("expected memo payload mode, got %q", firstCfg.PayloadMode)
	}
	if firstCfg.KeypairPath != filepath.Join(tempDir, "keys", "signer.json") {
		t.Fatalf("unexpected keypair path %q", firstCfg.KeypairPath)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.ProgramID != firstCfg.ProgramID {
		t.Fatalf("expected stable program ID, got %q then %q", firstCfg.ProgramID, secondCfg.ProgramID)
	}
}

func TestLoadOrCreateFillsMissingFields(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvDataDir, tempDir)

	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}
	partial := &PanelConfig{
		Endpoint:  "local:///tmp/iotpanel.db",
		ProgramID: "11111111111111111111111111111111",
	}
	if err := Save(ConfigPath(tempDir), partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.Endpoint != "local:///tmp/iotpanel.db" {
		t.Fatalf("expected endpoint to be kept, got %q", cfg.Endpoint)
	}
	if cfg.ProgramID != "11111111111111111111111111111111" {
		t.Fatalf("expected program ID to be kept, got %q", cfg.ProgramID)
	}
	if cfg.ConfirmTimeoutSec != DefaultConfirmTimeoutSec || cfg.LogFormat != "text" {
		t.Fatalf("expected defaults to be filled, got %+v", cfg)
	}

	saved, err := Load(ConfigPath(tempDir))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if saved.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected normalized config to be persisted, got %q", saved.ListenAddr)
	}
}

func TestEnvOverridesAreAppliedNotPersisted(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvDataDir, tempDir)
	t.Setenv(EnvEndpoint, "http://127.0.0.1:8899")
	t.Setenv(EnvCommitment, "finalized")
	t.Setenv(EnvListenAddr, "0.0.0.0:9090")
	t.Setenv(EnvLogLevel, "debug")

	cfg, cfgPath, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.Endpoint != "http://127.0.0.1:8899" || cfg.Commitment != "finalized" || cfg.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	level, err := cfg.Level()
	if err != nil {
		t.Fatalf("Level failed: %v", err)
	}
	if level.String() != "DEBUG" {
		t.Fatalf("expected debug level, got %s", level)
	}

	saved, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if saved.Endpoint != ledger.DefaultEndpoint {
		t.Fatalf("override must not be persisted, got %q", saved.Endpoint)
	}
}

func TestLoadOrCreateRejectsInvalidOverride(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvProgramID, "not-a-key")

	if _, _, _, err := LoadOrCreate(); err == nil || !strings.Contains(err.Error(), "program_id") {
		t.Fatalf("expected program_id validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := defaultConfig(t.TempDir())
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	mutations := map[string]func(*PanelConfig){
		"endpoint":      func(c *PanelConfig) { c.Endpoint = "ftp://x" },
		"commitment":    func(c *PanelConfig) { c.Commitment = "soon" },
		"payload":       func(c *PanelConfig) { c.PayloadMode = "inline" },
		"device source": func(c *PanelConfig) { c.DeviceSource = "serial" },
		"listen addr":   func(c *PanelConfig) { c.ListenAddr = "8080" },
		"confirm":       func(c *PanelConfig) { c.ConfirmTimeoutSec = 0 },
		"log level":     func(c *PanelConfig) { c.LogLevel = "loud" },
		"log format":    func(c *PanelConfig) { c.LogFormat = "xml" },
		"program id":    func(c *PanelConfig) { c.ProgramID = "0OIl" },
	}
	for name, mutate := range mutations {
		cfg := *valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestConnection(t *testing.T) {
	cfg := defaultConfig(t.TempDir())
	cfg.Endpoint = "local:///tmp/ledger.db"
	cfg.Commitment = "processed"
	cfg.ConfirmTimeoutSec = 5

	conn := cfg.Connection()
	if conn.Endpoint != "local:///tmp/ledger.db" || conn.Commitment != ledger.CommitmentProcessed {
		t.Fatalf("unexpected connection config: %+v", conn)
	}
	if conn.ConfirmTimeout != 5*time.Second {
		t.Fatalf("unexpected confirm timeout %s", conn.ConfirmTimeout)
	}
}

func TestConnectionUsesDataDirForBareLocalEndpoint(t *testing.T) {
	dataDir := t.TempDir()
	cfg := defaultConfig(dataDir)
	cfg.Endpoint = "local://"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("bare local endpoint should validate with a data dir: %v", err)
	}
	if conn := cfg.Connection(); conn.DataDir != dataDir {
		t.Fatalf("expected data dir %q, got %q", dataDir, conn.DataDir)
	}

	cfg.dataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bare local endpoint without a data dir should fail validation")
	}
}

func TestValidateAcceptsAnyDeviceSourceCase(t *testing.T) {
	cfg := defaultConfig(t.TempDir())
	cfg.DeviceSource = "Ledger"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("device source should be case-insensitive: %v", err)
	}
}
