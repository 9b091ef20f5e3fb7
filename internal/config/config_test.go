package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func validConfig() Config {
	return Config{
		Network: NetworkConfig{
			ListenAddress:       "0.0.0.0:4444",
			DestHost:            "127.0.0.1",
			DestPort:            4444,
			Key:                 testKey(),
			KeepAliveIntervalMs: 10000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Mixer: MixerConfig{
			SampleRate:        48000,
			MixerFrameSamples: 1920,
			JitterGateFrames:  5,
			MaxQueueFrames:    20,
			FadeSamples:       64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid dest port",
			mutate: func(c *Config) {
				c.Network.DestPort = 70000
			},
			expectError: true,
			errorMsg:    "dest_port must be between 1 and 65535",
		},
		{
			name: "invalid mixer sample rate",
			mutate: func(c *Config) {
				c.Mixer.SampleRate = 16000
			},
			expectError: true,
			errorMsg:    "sample_rate must be 48000 Hz",
		},
		{
			name: "invalid jitter gate frames",
			mutate: func(c *Config) {
				c.Mixer.JitterGateFrames = 4
			},
			expectError: true,
			errorMsg:    "jitter_gate_frames must be 3 or 5",
		},
		{
			name: "short key",
			mutate: func(c *Config) {
				c.Network.Key = base64.StdEncoding.EncodeToString(make([]byte, 16))
			},
			expectError: true,
			errorMsg:    "key must decode to",
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "trace"
			},
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
network:
  listen_address: "0.0.0.0:4444"
  dest_host: "127.0.0.1"
  dest_port: 4444
  key: "` + testKey() + `"
  keepalive_interval_ms: 10000
http:
  port: 8080
  address: "127.0.0.1"
  enabled: true
mixer:
  sample_rate: 48000
  mixer_frame_samples: 1920
  jitter_gate_frames: 5
  max_queue_frames: 20
  fade_samples: 64
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "non-numeric dest_port",
			configYAML: `
network:
  dest_port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing dest_host",
			configYAML: `
network:
  listen_address: "0.0.0.0:4444"
  dest_port: 4444
  key: "` + testKey() + `"
  keepalive_interval_ms: 10000
mixer:
  sample_rate: 48000
  mixer_frame_samples: 1920
  jitter_gate_frames: 5
  max_queue_frames: 20
  fade_samples: 64
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: true,
			errorMsg:    "dest_host cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, tt.name+".yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestKeepAliveInterval(t *testing.T) {
	n := NetworkConfig{KeepAliveIntervalMs: 10000}
	if n.KeepAliveInterval() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", n.KeepAliveInterval())
	}
}

func TestDecodedKey(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xAB
	n := NetworkConfig{Key: base64.StdEncoding.EncodeToString(raw)}
	key, err := n.DecodedKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 || key[0] != 0xAB {
		t.Errorf("unexpected decoded key: %v", key)
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
