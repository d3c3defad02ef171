package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Broker  BrokerConfig  `koanf:"broker"`
	Storage StorageConfig `koanf:"storage"`
	API     APIConfig     `koanf:"api"`
	Turn    TurnConfig    `koanf:"turn"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds the listener configuration. The datagram relay always
// listens on Port+1.
type ServerConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	PublicHost string `koanf:"public_host"`
}

// RelayPort returns the datagram relay port
func (s ServerConfig) RelayPort() int {
	return s.Port + 1
}

// BrokerConfig holds session broker tuning
type BrokerConfig struct {
	WriteTimeout time.Duration   `koanf:"write_timeout"`
	LoginTimeout time.Duration   `koanf:"login_timeout"`
	MaxFrameSize int             `koanf:"max_frame_size"`
	RateLimit    RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig bounds login and connect requests per remote IP
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	Rate    float64 `koanf:"rate"` // requests per second
	Burst   int     `koanf:"burst"`
}

// StorageConfig holds the audit log database configuration
type StorageConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// APIConfig holds admin REST API configuration
type APIConfig struct {
	Enabled     bool         `koanf:"enabled"`
	Bind        string       `koanf:"bind"`
	Port        int          `koanf:"port"`
	CORSOrigins []string     `koanf:"cors_origins"`
	APIKey      APIKeyConfig `koanf:"api_key"`
}

// APIKeyConfig holds API key configuration
type APIKeyConfig struct {
	Hash      string `koanf:"hash"`
	CreatedAt string `koanf:"created_at"`
}

// TurnConfig holds the optional STUN/TURN service configuration
type TurnConfig struct {
	Enabled  bool       `koanf:"enabled"`
	Realm    string     `koanf:"realm"`
	PublicIP string     `koanf:"public_ip"`
	Port     int        `koanf:"port"`
	Auth     AuthConfig `koanf:"auth"`
}

// AuthConfig holds TURN authentication configuration
type AuthConfig struct {
	Mode        string       `koanf:"mode"`
	Secret      string       `koanf:"secret"`
	TTLSeconds  int          `koanf:"ttl_seconds"`
	StaticUsers []StaticUser `koanf:"static_users"`
}

// StaticUser represents a static username/password pair
type StaticUser struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load loads the server configuration from a YAML file
func Load(configPath string) (*Config, error) {
	var cfg Config
	if err := loadInto(configPath, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func loadInto(configPath string, out any) error {
	k := koanf.New(".")

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}

	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	return nil
}

// applyDefaults sets default values for optional fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Broker defaults
	if cfg.Broker.WriteTimeout == 0 {
		cfg.Broker.WriteTimeout = 10 * time.Second
	}
	if cfg.Broker.LoginTimeout == 0 {
		cfg.Broker.LoginTimeout = 30 * time.Second
	}
	if cfg.Broker.MaxFrameSize == 0 {
		cfg.Broker.MaxFrameSize = 16 << 20
	}
	if cfg.Broker.RateLimit.Rate == 0 {
		cfg.Broker.RateLimit.Rate = 2
	}
	if cfg.Broker.RateLimit.Burst == 0 {
		cfg.Broker.RateLimit.Burst = 10
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/sessions.db"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9000
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}

	// TURN defaults
	if cfg.Turn.Port == 0 {
		cfg.Turn.Port = 3478
	}
	if cfg.Turn.PublicIP == "" {
		cfg.Turn.PublicIP = "127.0.0.1"
	}
	if cfg.Turn.Realm == "" {
		cfg.Turn.Realm = "arqut-desk"
	}
	if cfg.Turn.Auth.Mode == "" {
		cfg.Turn.Auth.Mode = "rest"
	}
	if cfg.Turn.Auth.TTLSeconds == 0 {
		cfg.Turn.Auth.TTLSeconds = 86400
	}

	applyLoggingDefaults(&cfg.Logging)
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// validate checks the configuration for required fields and consistency
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65534 {
		return fmt.Errorf("invalid server port: %d (relay uses port+1)", cfg.Server.Port)
	}

	if cfg.Broker.MaxFrameSize < 1024 {
		return fmt.Errorf("max_frame_size must be at least 1024 bytes")
	}

	if cfg.Broker.RateLimit.Rate < 0 || cfg.Broker.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	if cfg.API.Enabled && cfg.API.Port == cfg.Server.Port {
		return fmt.Errorf("api port conflicts with server port %d", cfg.Server.Port)
	}

	if cfg.API.Enabled && cfg.API.Port == cfg.Server.RelayPort() {
		return fmt.Errorf("api port conflicts with relay port %d", cfg.Server.RelayPort())
	}

	if cfg.Turn.Enabled {
		if cfg.Turn.Auth.Mode != "rest" && cfg.Turn.Auth.Mode != "static" {
			return fmt.Errorf("invalid auth mode: %s (must be 'rest' or 'static')", cfg.Turn.Auth.Mode)
		}

		if cfg.Turn.Auth.Mode == "rest" && cfg.Turn.Auth.Secret == "" {
			return fmt.Errorf("auth secret is required for REST mode")
		}

		if cfg.Turn.Auth.Mode == "static" && len(cfg.Turn.Auth.StaticUsers) == 0 {
			return fmt.Errorf("at least one static user is required for static auth mode")
		}
	}

	return validateLogging(&cfg.Logging)
}

func validateLogging(l *LoggingConfig) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", l.Format)
	}
	return nil
}
