// Package config loads BeamCode's broker configuration: bind address,
// data directory, auth, adapter binaries, and the backpressure/timeout
// tunables the rest of the broker reads at startup.
//
// Grounded on the teacher's internal/config.Load/LoadFrom (yaml.v3,
// "missing file means defaults" semantics), generalized from a
// per-user bridges config to the broker-wide settings BeamCode needs.
// cmd/beamcoded overrides the bind host, port, data directory and log
// level from its command-line flags; every other field comes only from
// the file or its default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of BeamCode's broker configuration.
type Config struct {
	Listen  ListenConfig            `yaml:"listen"`
	DataDir string                  `yaml:"data_dir"`
	Auth    AuthConfig              `yaml:"auth"`
	Origins []string                `yaml:"allowed_origins"`
	Adapters map[string]AdapterConfig `yaml:"adapters"`

	DefaultAdapter string `yaml:"default_adapter"`

	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`

	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ListenConfig is the Consumer Gateway / CLI Gateway bind address.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the "host:port" string net/http listens on.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// AuthConfig configures the Consumer Gateway's authenticator chain.
type AuthConfig struct {
	// BearerToken, if set, enables constant-time Bearer-token auth.
	BearerToken string `yaml:"bearer_token"`
	// JWTSecret, if set, enables HMAC JWT auth (golang-jwt/jwt/v5).
	JWTSecret string `yaml:"jwt_secret"`
	// AllowAnonymous permits unauthenticated observers when no
	// credential is presented (spec §4.8).
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// AdapterConfig parametrizes one named backend adapter.
type AdapterConfig struct {
	Binary string            `yaml:"binary"`
	Args   []string          `yaml:"args,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// RateLimitConfig configures internal/ratelimit.Limiter construction
// per consumer connection (spec §4.8).
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// BackpressureConfig configures the Consumer Broadcaster (spec §4.9).
type BackpressureConfig struct {
	HighWaterMark int `yaml:"high_water_mark"`
	MaxQueueSize  int `yaml:"max_queue_size"`
}

// TimeoutsConfig configures the Reconnect and Idle Policies (spec
// §4.13, §4.14) and the capabilities handshake (spec §4.6).
type TimeoutsConfig struct {
	InitializeHandshake time.Duration `yaml:"initialize_handshake"`
	ReconnectGrace      time.Duration `yaml:"reconnect_grace"`
	IdleReap            time.Duration `yaml:"idle_reap"`
	SDKDialIn           time.Duration `yaml:"sdk_dial_in"`
}

// StorageConfig selects and configures the Session Repository backend
// (spec §4.11).
type StorageConfig struct {
	// Backend is "file" (atomic JSON files, the default) or "sqlite"
	// (modernc.org/sqlite).
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// LogConfig configures internal/activitylog.
type LogConfig struct {
	Path   string `yaml:"path"`
	Level  string `yaml:"level"`
	Console bool  `yaml:"console"`
}

// Default returns the configuration BeamCode runs with when no config
// file is present and no flags override it.
func Default() *Config {
	home, err := os.UserHomeDir()
	dataDir := filepath.Join(".", ".beamcode")
	if err == nil {
		dataDir = filepath.Join(home, ".beamcode")
	}
	return &Config{
		Listen:         ListenConfig{Host: "127.0.0.1", Port: 8787},
		DataDir:        dataDir,
		DefaultAdapter: "claude",
		Auth:           AuthConfig{AllowAnonymous: true},
		RateLimit:      RateLimitConfig{MessagesPerSecond: 20, Burst: 40},
		Backpressure:   BackpressureConfig{HighWaterMark: 1000, MaxQueueSize: 5000},
		Timeouts: TimeoutsConfig{
			InitializeHandshake: 10 * time.Second,
			ReconnectGrace:      30 * time.Second,
			IdleReap:            2 * time.Hour,
			SDKDialIn:           2 * time.Minute,
		},
		Storage: StorageConfig{Backend: "file"},
		Log:     LogConfig{Level: "info", Console: true},
	}
}

// ConfigDir returns the BeamCode configuration directory (~/.beamcode).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".beamcode")
	}
	return filepath.Join(home, ".beamcode")
}

// Load reads config.yaml from ConfigDir(), merged over Default().
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(ConfigDir(), "config.yaml"))
}

// LoadFrom reads a config file at path, merged over Default(). A
// missing file is not an error: Default() is returned unchanged.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Storage.Backend != "file" && c.Storage.Backend != "sqlite" {
		return fmt.Errorf("storage.backend %q must be \"file\" or \"sqlite\"", c.Storage.Backend)
	}
	if c.RateLimit.MessagesPerSecond <= 0 {
		return fmt.Errorf("rate_limit.messages_per_second must be positive")
	}
	return nil
}
