// Package config provides configuration helpers for go-tryon commands.
//
// Values come from the process environment, optionally seeded from a
// .env file. Variables already present in the environment always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults used when the corresponding variable is unset.
const (
	DefaultPort          = "8080"
	DefaultLogLevel      = "info"
	DefaultSettle        = 500 * time.Millisecond
	DefaultReadySettle   = 500 * time.Millisecond
	DefaultReadyTimeout  = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultCameraBackend = "mock"
	DefaultCameraPreset  = "selfie"
	DefaultChatBaseURL   = "https://api.openai.com/v1"
	DefaultChatModel     = "gpt-4-turbo"
	DefaultWorkers       = 64
)

// Config is the resolved runtime configuration.
type Config struct {
	Port     string
	LogLevel string

	// Try-on lifecycle timings
	Settle       time.Duration
	ReadySettle  time.Duration
	ReadyTimeout time.Duration
	MaxRetries   int

	// Camera
	CameraBackend string // "mock" or "opencv"
	CameraDevice  int
	CameraPreset  string

	// Chat
	OpenAIKey   string
	ChatBaseURL string
	ChatModel   string

	// Workers bounds the pool that runs try-on boot steps.
	Workers int
}

// LoadEnvFile seeds the environment from the given dotenv files.
// Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := LoadEnvFile(); err != nil {
		return Config{}, err
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          String("TRYON_PORT", DefaultPort),
		LogLevel:      String("TRYON_LOG_LEVEL", DefaultLogLevel),
		CameraBackend: String("TRYON_CAMERA_BACKEND", DefaultCameraBackend),
		CameraPreset:  String("TRYON_CAMERA_PRESET", DefaultCameraPreset),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		ChatBaseURL:   String("OPENAI_BASE_URL", DefaultChatBaseURL),
		ChatModel:     String("TRYON_CHAT_MODEL", DefaultChatModel),
	}

	var err error
	if cfg.Settle, err = Millis("TRYON_SETTLE_MS", DefaultSettle); err != nil {
		return cfg, err
	}
	if cfg.ReadySettle, err = Millis("TRYON_READY_SETTLE_MS", DefaultReadySettle); err != nil {
		return cfg, err
	}
	if cfg.ReadyTimeout, err = Millis("TRYON_READY_TIMEOUT_MS", DefaultReadyTimeout); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = Int("TRYON_MAX_RETRIES", DefaultMaxRetries); err != nil {
		return cfg, err
	}
	if cfg.CameraDevice, err = Int("TRYON_CAMERA_DEVICE", 0); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = Int("TRYON_WORKERS", DefaultWorkers); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("config: ready timeout must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	switch c.CameraBackend {
	case "mock", "opencv":
	default:
		return fmt.Errorf("config: unknown camera backend %q", c.CameraBackend)
	}
	return nil
}

// String returns the env var or the default when unset.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int parses an integer env var.
func Int(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// Millis parses an env var holding milliseconds.
func Millis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
