package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}

	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestComponentLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "debug", Output: &buf})

	log.LeaseLogger("user-1").Info("claimed").Send()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}

	if entry["component"] != "lease" {
		t.Errorf("Expected component=lease, got %v", entry["component"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id=user-1, got %v", entry["user_id"])
	}
	if entry["service"] != "draftsync" {
		t.Errorf("Expected service=draftsync, got %v", entry["service"])
	}
}

func TestLogSaveLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "info", Output: &buf})

	// Successful saves log at debug and are filtered out at info
	log.LogSave("chapter/c1", 5*time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output for successful save at info level, got %q", buf.String())
	}

	log.LogSave("chapter/c1", 5*time.Millisecond, errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if entry["level"] != "warn" {
		t.Errorf("Expected warn level, got %v", entry["level"])
	}
	if entry["unit"] != "chapter/c1" {
		t.Errorf("Expected unit field, got %v", entry["unit"])
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	// Must not panic and must not write anywhere
	log.Error("ignored").Send()
	log.EngineLogger("doc").LogSave("meta", time.Second, errors.New("x"))
}
