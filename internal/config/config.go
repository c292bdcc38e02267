// Package config loads draftsync settings from the environment and an optional .env file
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendGRPC   = "grpc"
	BackendHTTP   = "http"
)

// Config holds process configuration
type Config struct {
	// Store
	StoreBackend string
	DBPath       string
	StoreAddr    string // gRPC target or HTTP base URL for remote backends

	// Server
	GRPCPort int
	HTTPPort int

	// Logging
	LogLevel  string
	LogPretty bool

	// Lease
	DeviceClass       string
	HeartbeatInterval time.Duration

	// Engine
	TextDebounce  time.Duration
	MetaDebounce  time.Duration
	MaxPartSize   int
	ReadingWPM    int
	MaxCharacters int
}

// Load reads configuration from the environment, loading .env files when present
func Load(files ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load(files...)

	cfg := &Config{
		StoreBackend:      getEnv("DRAFTSYNC_STORE", BackendSQLite),
		DBPath:            getEnv("DRAFTSYNC_DB_PATH", "draftsync.db"),
		StoreAddr:         getEnv("DRAFTSYNC_STORE_ADDR", "localhost:50061"),
		GRPCPort:          getEnvInt("DRAFTSYNC_GRPC_PORT", 50061),
		HTTPPort:          getEnvInt("DRAFTSYNC_HTTP_PORT", 8091),
		LogLevel:          getEnv("DRAFTSYNC_LOG_LEVEL", "info"),
		LogPretty:         getEnvBool("DRAFTSYNC_LOG_PRETTY", false),
		DeviceClass:       getEnv("DRAFTSYNC_DEVICE_CLASS", "desktop"),
		HeartbeatInterval: getEnvDuration("DRAFTSYNC_HEARTBEAT", 30*time.Second),
		TextDebounce:      getEnvDuration("DRAFTSYNC_TEXT_DEBOUNCE", time.Second),
		MetaDebounce:      getEnvDuration("DRAFTSYNC_META_DEBOUNCE", 0),
		MaxPartSize:       getEnvInt("DRAFTSYNC_MAX_PART_SIZE", 30000),
		ReadingWPM:        getEnvInt("DRAFTSYNC_READING_WPM", 200),
		MaxCharacters:     getEnvInt("DRAFTSYNC_MAX_CHARACTERS", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendGRPC, BackendHTTP:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.DeviceClass != "desktop" && c.DeviceClass != "mobile" {
		return fmt.Errorf("config: device class must be desktop or mobile, got %q", c.DeviceClass)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat interval must be positive")
	}
	if c.TextDebounce < 0 || c.MetaDebounce < 0 {
		return fmt.Errorf("config: debounce windows must not be negative")
	}
	if c.MaxPartSize <= 0 {
		return fmt.Errorf("config: max part size must be positive")
	}
	if c.ReadingWPM <= 0 {
		return fmt.Errorf("config: reading speed must be positive")
	}
	return nil
}

// getEnv returns the variable or a default when unset
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
