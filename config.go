package tour

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines editor server configuration.
type Config struct {
	// DataDir is the directory holding tour snapshots and panorama images
	// when the file backend is used. Default: "data".
	DataDir string `yaml:"data_dir"`

	// HTTP configures the HTTP and WebSocket server.
	HTTP HTTPConfig `yaml:"http"`

	// Hub configures the per-document session hub.
	Hub HubConfig `yaml:"hub"`

	// Sync configures the client sync engine.
	Sync SyncConfig `yaml:"sync"`

	// Store configures snapshot persistence.
	Store StoreConfig `yaml:"store"`
}

// HTTPConfig groups HTTP server settings.
type HTTPConfig struct {
	// Addr is the listen address. Default: ":3030".
	Addr string `yaml:"addr"`

	// MaxUploadBytes limits panorama upload size. Default: 10MB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// HubConfig groups session hub settings.
type HubConfig struct {
	// SendBuffer is the per-client outbound channel buffer size.
	// Default: 256.
	SendBuffer int `yaml:"send_buffer"`

	// WriteTimeout bounds a single WebSocket write. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingInterval is how often idle clients are pinged. Default: 30s.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PersistBuffer is the asynchronous persistence queue depth.
	// Default: 64.
	PersistBuffer int `yaml:"persist_buffer"`
}

// SyncConfig groups client sync engine settings.
type SyncConfig struct {
	// RetransmitFloor is the minimum delay before resending the queue
	// head after a failed transmission. Doubles on each consecutive
	// failure and resets on success. Default: 100ms.
	RetransmitFloor time.Duration `yaml:"retransmit_floor"`

	// ReconnectFloor is the minimum delay before a reconnect attempt.
	// Doubles on each consecutive failure and resets once a connection
	// is established. Default: 500ms.
	ReconnectFloor time.Duration `yaml:"reconnect_floor"`

	// DebounceWindow coalesces bursts of local mutations before a diff
	// is computed. Default: 250ms.
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// StoreConfig groups snapshot persistence settings.
type StoreConfig struct {
	// Compression enables snappy compression of persisted snapshots.
	Compression bool `yaml:"compression"`

	// EncryptionKey is an optional hex-encoded 32-byte key enabling
	// encryption at rest for snapshots. Empty disables encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: "data",
		HTTP: HTTPConfig{
			Addr:           ":3030",
			MaxUploadBytes: 10 * 1024 * 1024,
		},
		Hub: HubConfig{
			SendBuffer:    256,
			WriteTimeout:  10 * time.Second,
			PingInterval:  30 * time.Second,
			PersistBuffer: 64,
		},
		Sync: SyncConfig{
			RetransmitFloor: 100 * time.Millisecond,
			ReconnectFloor:  500 * time.Millisecond,
			DebounceWindow:  250 * time.Millisecond,
		},
		Store: StoreConfig{
			Compression: false,
		},
	}
}

// UnmarshalYAML decodes durations from strings like "250ms". Fields absent
// from the document keep their previous values.
func (c *HubConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SendBuffer    *int   `yaml:"send_buffer"`
		WriteTimeout  string `yaml:"write_timeout"`
		PingInterval  string `yaml:"ping_interval"`
		PersistBuffer *int   `yaml:"persist_buffer"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.SendBuffer != nil {
		c.SendBuffer = *raw.SendBuffer
	}
	if raw.PersistBuffer != nil {
		c.PersistBuffer = *raw.PersistBuffer
	}
	if err := parseDuration(&c.WriteTimeout, raw.WriteTimeout); err != nil {
		return err
	}
	return parseDuration(&c.PingInterval, raw.PingInterval)
}

// UnmarshalYAML decodes durations from strings like "250ms". Fields absent
// from the document keep their previous values.
func (c *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RetransmitFloor string `yaml:"retransmit_floor"`
		ReconnectFloor  string `yaml:"reconnect_floor"`
		DebounceWindow  string `yaml:"debounce_window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := parseDuration(&c.RetransmitFloor, raw.RetransmitFloor); err != nil {
		return err
	}
	if err := parseDuration(&c.ReconnectFloor, raw.ReconnectFloor); err != nil {
		return err
	}
	return parseDuration(&c.DebounceWindow, raw.DebounceWindow)
}

func parseDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*dst = d
	return nil
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// encryptionKey decodes the configured hex key, or returns nil when
// encryption is disabled.
func (c StoreConfig) encryptionKey() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
