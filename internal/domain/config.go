package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	NVR          NVRConfig          `mapstructure:"nvr"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Transfer     TransferConfig     `mapstructure:"transfer"`
	Playback     PlaybackConfig     `mapstructure:"playback"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains the local control API settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// NVRConfig describes the recorder the client talks to
type NVRConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// TransportConfig contains HTTP transport settings. Timeout applies to
// dialing, the TLS handshake and waiting for response headers; it is set
// once here and never overridden per request.
type TransportConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	ProxyURL             string        `mapstructure:"proxy_url"` // socks5://host:port
	TrustPrivateNetworks bool          `mapstructure:"trust_private_networks"`
	TrustLinkLocal       bool          `mapstructure:"trust_link_local"`
	CAFile               string        `mapstructure:"ca_file"`
}

// TransferConfig contains settings for saved transfers
type TransferConfig struct {
	DocumentsDir string `mapstructure:"documents_dir"`
	DatabasePath string `mapstructure:"database_path"`
}

// PlaybackConfig contains playback session settings
type PlaybackConfig struct {
	TempRoot       string        `mapstructure:"temp_root"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MediaExtension string        `mapstructure:"media_extension"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8971,
		},
		NVR: NVRConfig{
			BaseURL: "https://127.0.0.1:8971",
		},
		Auth: AuthConfig{
			Mode: AuthModeNone,
		},
		Transport: TransportConfig{
			Timeout:              30 * time.Second,
			TrustPrivateNetworks: true,
			TrustLinkLocal:       true,
		},
		Transfer: TransferConfig{
			DocumentsDir: "$HOME/.viewu/documents",
			DatabasePath: "$HOME/.viewu/transfers.db",
		},
		Playback: PlaybackConfig{
			TempRoot:       "",
			SessionTTL:     30 * time.Minute,
			SweepInterval:  time.Minute,
			MediaExtension: ".mp4",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.viewu/logs",
		},
	}
}
