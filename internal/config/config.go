package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicemesh/client/internal/crypto"
)

// Config represents the complete client configuration
type Config struct {
	Network NetworkConfig `yaml:"network"`
	HTTP    HTTPConfig    `yaml:"http"`
	Mixer   MixerConfig   `yaml:"mixer"`
	Device  DeviceConfig  `yaml:"device"`
	Logging LoggingConfig `yaml:"logging"`
}

// NetworkConfig contains the socket, key, and destination for the
// session (spec.md section 6 "Configuration enumerated").
type NetworkConfig struct {
	ListenAddress       string `yaml:"listen_address"`
	DestHost            string `yaml:"dest_host"`
	DestPort            int    `yaml:"dest_port"`
	Key                 string `yaml:"key"` // base64 256-bit
	KeepAliveIntervalMs int    `yaml:"keepalive_interval_ms"`
}

// HTTPConfig contains control-surface server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MixerConfig contains the mixer's tunable constants. SampleRate and
// MixerFrameSamples are fixed by the wire format and validated against
// their canonical values rather than treated as free parameters.
type MixerConfig struct {
	SampleRate        int `yaml:"sample_rate"`
	MixerFrameSamples int `yaml:"mixer_frame_samples"`
	JitterGateFrames  int `yaml:"jitter_gate_frames"`
	MaxQueueFrames    int `yaml:"max_queue_frames"`
	FadeSamples       int `yaml:"fade_samples"`
}

// DeviceConfig selects the PortAudio input/output devices. Empty
// strings mean "use the platform default device".
type DeviceConfig struct {
	OutputDevice string `yaml:"output_device"`
	InputDevice  string `yaml:"input_device"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Mixer.Validate(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates network configuration
func (n *NetworkConfig) Validate() error {
	if n.ListenAddress == "" {
		return fmt.Errorf("listen_address cannot be empty")
	}

	if n.DestHost == "" {
		return fmt.Errorf("dest_host cannot be empty")
	}

	if n.DestPort < 1 || n.DestPort > 65535 {
		return fmt.Errorf("dest_port must be between 1 and 65535, got %d", n.DestPort)
	}

	key, err := base64.StdEncoding.DecodeString(n.Key)
	if err != nil {
		return fmt.Errorf("key must be valid base64: %w", err)
	}
	if len(key) != crypto.KeySize {
		return fmt.Errorf("key must decode to %d bytes, got %d", crypto.KeySize, len(key))
	}

	if n.KeepAliveIntervalMs < 1 {
		return fmt.Errorf("keepalive_interval_ms must be positive, got %d", n.KeepAliveIntervalMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates mixer configuration
func (m *MixerConfig) Validate() error {
	if m.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz, got %d", m.SampleRate)
	}

	if m.MixerFrameSamples != 1920 {
		return fmt.Errorf("mixer_frame_samples must be 1920, got %d", m.MixerFrameSamples)
	}

	if m.JitterGateFrames != 3 && m.JitterGateFrames != 5 {
		return fmt.Errorf("jitter_gate_frames must be 3 or 5, got %d", m.JitterGateFrames)
	}

	if m.MaxQueueFrames < 1 {
		return fmt.Errorf("max_queue_frames must be at least 1, got %d", m.MaxQueueFrames)
	}

	if m.FadeSamples < 1 || m.FadeSamples > m.MixerFrameSamples {
		return fmt.Errorf("fade_samples must be between 1 and mixer_frame_samples, got %d", m.FadeSamples)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// DecodedKey returns the network key decoded from base64. Validate
// must have succeeded first.
func (n *NetworkConfig) DecodedKey() ([]byte, error) {
	return base64.StdEncoding.DecodeString(n.Key)
}

// KeepAliveInterval returns the keep-alive interval as a time.Duration
func (n *NetworkConfig) KeepAliveInterval() time.Duration {
	return time.Duration(n.KeepAliveIntervalMs) * time.Millisecond
}
