package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.StoreBackend != BackendSQLite {
		t.Errorf("Expected sqlite backend, got %s", cfg.StoreBackend)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected 30s heartbeat, got %v", cfg.HeartbeatInterval)
	}
	if cfg.TextDebounce != time.Second {
		t.Errorf("Expected 1s text debounce, got %v", cfg.TextDebounce)
	}
	if cfg.MaxPartSize != 30000 {
		t.Errorf("Expected 30000 max part size, got %d", cfg.MaxPartSize)
	}
	if cfg.ReadingWPM != 200 {
		t.Errorf("Expected 200 wpm, got %d", cfg.ReadingWPM)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DRAFTSYNC_STORE=memory\nDRAFTSYNC_TEXT_DEBOUNCE=250ms\nDRAFTSYNC_DEVICE_CLASS=mobile\nDRAFTSYNC_LOG_PRETTY=yes\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	for _, key := range []string{"DRAFTSYNC_STORE", "DRAFTSYNC_TEXT_DEBOUNCE", "DRAFTSYNC_DEVICE_CLASS", "DRAFTSYNC_LOG_PRETTY"} {
		key := key
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if cfg.StoreBackend != BackendMemory {
		t.Errorf("Expected memory backend, got %s", cfg.StoreBackend)
	}
	if cfg.TextDebounce != 250*time.Millisecond {
		t.Errorf("Expected 250ms debounce, got %v", cfg.TextDebounce)
	}
	if cfg.DeviceClass != "mobile" {
		t.Errorf("Expected mobile, got %s", cfg.DeviceClass)
	}
	if !cfg.LogPretty {
		t.Error("Expected pretty logging")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.StoreBackend = "redis" }},
		{"device", func(c *Config) { c.DeviceClass = "tablet" }},
		{"heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"part size", func(c *Config) { c.MaxPartSize = 0 }},
		{"wpm", func(c *Config) { c.ReadingWPM = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				StoreBackend:      BackendMemory,
				DeviceClass:       "desktop",
				HeartbeatInterval: time.Second,
				MaxPartSize:       10,
				ReadingWPM:        200,
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
