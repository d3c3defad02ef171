package config

import (
	"fmt"
	"time"
)

// ClientConfig represents the client configuration
type ClientConfig struct {
	Server    ClientServerConfig `koanf:"server"`
	Identity  IdentityConfig     `koanf:"identity"`
	P2P       P2PConfig          `koanf:"p2p"`
	Video     VideoConfig        `koanf:"video"`
	File      FileConfig         `koanf:"file"`
	Clipboard ClipboardConfig    `koanf:"clipboard"`
	Logging   LoggingConfig      `koanf:"logging"`
}

// ClientServerConfig locates the rendezvous server
type ClientServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	RelayPort   int           `koanf:"relay_port"` // 0 means Port+1
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// IdentityConfig holds the login credentials. Empty values are generated at
// startup.
type IdentityConfig struct {
	UserID   string `koanf:"user_id"`
	Password string `koanf:"password"`
}

// P2PConfig controls the direct control tunnel and direct video path
type P2PConfig struct {
	Enabled      bool          `koanf:"enabled"`
	ForceRelay   bool          `koanf:"force_relay"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	HelloTimeout time.Duration `koanf:"hello_timeout"`
}

// VideoConfig controls the video sender
type VideoConfig struct {
	Interval        time.Duration `koanf:"interval"`
	ChunkSize       int           `koanf:"chunk_size"`
	MaxDatagramSize int           `koanf:"max_datagram_size"`
	MaxFrameSize    int           `koanf:"max_frame_size"` // largest accepted compressed frame
	QueueSize       int           `koanf:"queue_size"`
	FrameTimeout    time.Duration `koanf:"frame_timeout"`
	Keepalive       time.Duration `koanf:"keepalive"`
}

// FileConfig controls file transfers
type FileConfig struct {
	ChunkSize   int           `koanf:"chunk_size"`
	Pacing      time.Duration `koanf:"pacing"`
	DownloadDir string        `koanf:"download_dir"`
}

// ClipboardConfig controls clipboard sync
type ClipboardConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// LoadClient loads the client configuration from a YAML file
func LoadClient(configPath string) (*ClientConfig, error) {
	cfg := ClientConfig{
		P2P:       P2PConfig{Enabled: true},
		Clipboard: ClipboardConfig{Enabled: true},
	}
	if err := loadInto(configPath, &cfg); err != nil {
		return nil, err
	}

	ApplyClientDefaults(&cfg)

	if err := validateClient(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ApplyClientDefaults sets default values for optional client fields
func ApplyClientDefaults(cfg *ClientConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RelayPort == 0 {
		cfg.Server.RelayPort = cfg.Server.Port + 1
	}
	if cfg.Server.DialTimeout == 0 {
		cfg.Server.DialTimeout = 10 * time.Second
	}

	if cfg.P2P.DialTimeout == 0 {
		cfg.P2P.DialTimeout = 3 * time.Second
	}
	if cfg.P2P.HelloTimeout == 0 {
		cfg.P2P.HelloTimeout = 5 * time.Second
	}

	// Video defaults
	if cfg.Video.Interval == 0 {
		cfg.Video.Interval = 40 * time.Millisecond
	}
	if cfg.Video.ChunkSize == 0 {
		cfg.Video.ChunkSize = 45000
	}
	if cfg.Video.MaxDatagramSize == 0 {
		cfg.Video.MaxDatagramSize = 60000
	}
	if cfg.Video.MaxFrameSize == 0 {
		cfg.Video.MaxFrameSize = 8 << 20
	}
	if cfg.Video.QueueSize == 0 {
		cfg.Video.QueueSize = 64
	}
	if cfg.Video.FrameTimeout == 0 {
		cfg.Video.FrameTimeout = 2 * time.Second
	}
	if cfg.Video.Keepalive == 0 {
		cfg.Video.Keepalive = 5 * time.Second
	}

	// File defaults
	if cfg.File.ChunkSize == 0 {
		cfg.File.ChunkSize = 8 * 1024
	}
	if cfg.File.Pacing == 0 {
		cfg.File.Pacing = time.Millisecond
	}
	if cfg.File.DownloadDir == "" {
		cfg.File.DownloadDir = "downloads"
	}

	if cfg.Clipboard.PollInterval == 0 {
		cfg.Clipboard.PollInterval = time.Second
	}

	applyLoggingDefaults(&cfg.Logging)
}

func validateClient(cfg *ClientConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65534 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.RelayPort < 1 || cfg.Server.RelayPort > 65535 {
		return fmt.Errorf("invalid relay port: %d", cfg.Server.RelayPort)
	}

	if cfg.Video.ChunkSize <= 0 || cfg.Video.ChunkSize >= cfg.Video.MaxDatagramSize {
		return fmt.Errorf("video chunk_size must be positive and below max_datagram_size")
	}

	if cfg.Video.MaxFrameSize < cfg.Video.ChunkSize {
		return fmt.Errorf("video max_frame_size must be at least chunk_size")
	}

	if cfg.Video.MaxDatagramSize > 65507 {
		return fmt.Errorf("video max_datagram_size exceeds the UDP payload limit")
	}

	if cfg.File.ChunkSize <= 0 {
		return fmt.Errorf("file chunk_size must be positive")
	}

	return validateLogging(&cfg.Logging)
}
