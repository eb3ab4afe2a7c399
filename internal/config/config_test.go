package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caddielink.yaml")
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  role: satellite
  pairing_secret: s3cret
storage:
  data_dir: `+filepath.Join(t.TempDir(), "data")+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Role != RoleSatellite {
		t.Errorf("role = %s", cfg.Device.Role)
	}
	// Unset fields keep defaults.
	if cfg.Link.Transport != LinkLoopback {
		t.Errorf("transport = %s, want loopback default", cfg.Link.Transport)
	}
	if cfg.Sync.TelemetryInterval() != 30*time.Second {
		t.Errorf("telemetry interval = %v", cfg.Sync.TelemetryInterval())
	}
	if cfg.Maintenance.ArchiveRetentionDays != 365 {
		t.Errorf("retention = %d", cfg.Maintenance.ArchiveRetentionDays)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad role",
			mutate:  func(c *Config) { c.Device.Role = "spectator" },
			wantErr: "invalid role",
		},
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.Link.Transport = "carrier-pigeon" },
			wantErr: "invalid link transport",
		},
		{
			name: "mqtt without broker",
			mutate: func(c *Config) {
				c.Link.Transport = LinkMQTT
			},
			wantErr: "requires broker_url",
		},
		{
			name: "ws without endpoint",
			mutate: func(c *Config) {
				c.Link.Transport = LinkWS
			},
			wantErr: "requires listen_addr or peer_url",
		},
		{
			name: "encrypted without secret",
			mutate: func(c *Config) {
				c.Link.Encrypted = true
				c.Device.PairingSecret = ""
			},
			wantErr: "requires pairing_secret",
		},
		{
			name:    "battery out of range",
			mutate:  func(c *Config) { c.Sync.BatteryLevel = 1.5 },
			wantErr: "battery_level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Device.PairingSecret = "s"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "device:\n  role: nobody\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Device.Role = RoleSatellite
	cfg.Device.PairingSecret = "s"
	cfg.Storage.DataDir = filepath.Join(dir, "data")

	path := filepath.Join(dir, "out.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Device.Role != RoleSatellite {
		t.Errorf("role = %s after round trip", loaded.Device.Role)
	}
}

func TestReloadAppliesHotFields(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	cfg := DefaultConfig()
	cfg.Device.PairingSecret = "s"
	cfg.Storage.DataDir = dataDir
	path := filepath.Join(dir, "c.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Change a hot field and a restart-required field on disk.
	next := *cfg
	next.LogLevel = "debug"
	next.Device.Role = RoleSatellite
	if err := next.Save(path); err != nil {
		t.Fatalf("Save updated: %v", err)
	}

	applied := false
	result, err := cfg.Reload(path, slog.Default(), func(*Config) { applied = true })
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug applied", cfg.LogLevel)
	}
	if cfg.Device.Role != RoleController {
		t.Errorf("Role = %s, should not hot-reload", cfg.Device.Role)
	}
	if !applied {
		t.Error("apply callback not invoked")
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "Device" {
		t.Errorf("Skipped = %v, want [Device]", result.Skipped)
	}
}
