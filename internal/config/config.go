// Package config loads device configuration. Defaults come first and the
// YAML file overrides them, so a minimal config stays minimal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Roles a device can play in the pair.
const (
	RoleController = "controller"
	RoleSatellite  = "satellite"
)

// Link transport selection.
const (
	LinkLoopback = "loopback"
	LinkMQTT     = "mqtt"
	LinkWS       = "ws"
)

// Config holds all device configuration.
type Config struct {
	// Device identity and role within the pair.
	Device DeviceConfig `yaml:"device"`

	// Link transport to the peer.
	Link LinkConfig `yaml:"link"`

	// Sync engine tuning.
	Sync SyncConfig `yaml:"sync"`

	// Local storage locations.
	Storage StorageConfig `yaml:"storage"`

	// Background maintenance jobs.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

type DeviceConfig struct {
	Role     string `yaml:"role"`
	DeviceID string `yaml:"device_id"`
	PairID   string `yaml:"pair_id"`
	PeerID   string `yaml:"peer_id"`

	// PairingSecret derives the link encryption key and signs pairing
	// tokens. Both peers must share it.
	PairingSecret string `yaml:"pairing_secret"`
}

type LinkConfig struct {
	Transport string `yaml:"transport"`

	// BrokerURL is the MQTT broker, e.g. "tcp://localhost:1883".
	BrokerURL string `yaml:"broker_url,omitempty"`

	// ListenAddr / PeerURL configure the websocket transport: a
	// controller listens, a satellite dials.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	PeerURL    string `yaml:"peer_url,omitempty"`

	// Encrypted seals link payloads with the pairing secret.
	Encrypted bool `yaml:"encrypted"`
}

type SyncConfig struct {
	QueueCapacity            int `yaml:"queue_capacity"`
	TelemetryIntervalSeconds int `yaml:"telemetry_interval_seconds"`

	// BatteryLevel seeds the power monitor when no platform battery
	// source is wired, 0..1.
	BatteryLevel float64 `yaml:"battery_level"`
}

// TelemetryInterval returns the sampling interval as a duration.
func (s SyncConfig) TelemetryInterval() time.Duration {
	return time.Duration(s.TelemetryIntervalSeconds) * time.Second
}

type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	CourseDir string `yaml:"course_dir"`
}

type MaintenanceConfig struct {
	// ArchiveRetentionDays prunes archived rounds older than this.
	ArchiveRetentionDays int `yaml:"archive_retention_days"`

	// PruneSchedule and FullSyncSchedule are cron expressions.
	PruneSchedule    string `yaml:"prune_schedule"`
	FullSyncSchedule string `yaml:"full_sync_schedule"`
}

// DefaultConfig returns a config suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Role: RoleController,
		},
		Link: LinkConfig{
			Transport: LinkLoopback,
			Encrypted: true,
		},
		Sync: SyncConfig{
			QueueCapacity:            200,
			TelemetryIntervalSeconds: 30,
			BatteryLevel:             1.0,
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			CourseDir: "./courses",
		},
		Maintenance: MaintenanceConfig{
			ArchiveRetentionDays: 365,
			PruneSchedule:        "0 3 * * *",
			FullSyncSchedule:     "*/30 * * * *",
		},
		LogLevel: "info",
	}
}

// Load reads the YAML config at path over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// Validate checks fields the engine cannot default its way around.
func (c *Config) Validate() error {
	switch c.Device.Role {
	case RoleController, RoleSatellite:
	default:
		return fmt.Errorf("config: invalid role %q", c.Device.Role)
	}

	switch c.Link.Transport {
	case LinkLoopback:
	case LinkMQTT:
		if c.Link.BrokerURL == "" {
			return fmt.Errorf("config: mqtt transport requires broker_url")
		}
		if c.Device.PairID == "" || c.Device.DeviceID == "" || c.Device.PeerID == "" {
			return fmt.Errorf("config: mqtt transport requires pair_id, device_id and peer_id")
		}
	case LinkWS:
		if c.Link.ListenAddr == "" && c.Link.PeerURL == "" {
			return fmt.Errorf("config: ws transport requires listen_addr or peer_url")
		}
	default:
		return fmt.Errorf("config: invalid link transport %q", c.Link.Transport)
	}

	if c.Link.Encrypted && c.Device.PairingSecret == "" {
		return fmt.Errorf("config: encrypted link requires pairing_secret")
	}
	if c.Sync.BatteryLevel < 0 || c.Sync.BatteryLevel > 1 {
		return fmt.Errorf("config: battery_level must be within [0,1], got %.2f", c.Sync.BatteryLevel)
	}
	if c.Maintenance.ArchiveRetentionDays < 0 {
		return fmt.Errorf("config: archive_retention_days must be >= 0")
	}
	return nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// ArchivePath returns the SQLite archive location under the data dir.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Storage.DataDir, "rounds.db")
}

// JournalDir returns the event journal location under the data dir.
func (c *Config) JournalDir() string {
	return filepath.Join(c.Storage.DataDir, "journal")
}
