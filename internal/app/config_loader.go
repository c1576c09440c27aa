package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/spf13/viper"
)

const envPrefix = "VIEWU"

// newViper returns a viper instance set up with the standard search paths
// and environment binding
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.viewu")
		v.AddConfigPath("/etc/viewu")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, domain.DefaultConfig())
	return v
}

// bindDefaults registers every key so AutomaticEnv can override values that
// are absent from the file
func bindDefaults(v *viper.Viper, config *domain.Config) {
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)
	v.SetDefault("nvr.base_url", config.NVR.BaseURL)
	v.SetDefault("auth.mode", string(config.Auth.Mode))
	v.SetDefault("auth.bearer_token", config.Auth.BearerToken)
	v.SetDefault("auth.device_token", config.Auth.DeviceToken)
	v.SetDefault("auth.client_id", config.Auth.ClientID)
	v.SetDefault("auth.client_secret", config.Auth.ClientSecret)
	v.SetDefault("transport.timeout", config.Transport.Timeout)
	v.SetDefault("transport.proxy_url", config.Transport.ProxyURL)
	v.SetDefault("transport.trust_private_networks", config.Transport.TrustPrivateNetworks)
	v.SetDefault("transport.trust_link_local", config.Transport.TrustLinkLocal)
	v.SetDefault("transport.ca_file", config.Transport.CAFile)
	v.SetDefault("transfer.documents_dir", config.Transfer.DocumentsDir)
	v.SetDefault("transfer.database_path", config.Transfer.DatabasePath)
	v.SetDefault("playback.temp_root", config.Playback.TempRoot)
	v.SetDefault("playback.session_ttl", config.Playback.SessionTTL)
	v.SetDefault("playback.sweep_interval", config.Playback.SweepInterval)
	v.SetDefault("playback.media_extension", config.Playback.MediaExtension)
	v.SetDefault("notification.enabled", config.Notification.Enabled)
	v.SetDefault("notification.method", config.Notification.Method)
	v.SetDefault("logging.level", config.Logging.Level)
	v.SetDefault("logging.format", config.Logging.Format)
	v.SetDefault("logging.output_path", config.Logging.OutputPath)
	v.SetDefault("logging.logs_dir", config.Logging.LogsDir)
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config, _, err := loadConfig(configPath)
	return config, err
}

// loadConfig also returns the viper instance so callers can watch the file
func loadConfig(configPath string) (*domain.Config, *viper.Viper, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	config, err := decodeConfig(v)
	if err != nil {
		return nil, nil, err
	}
	return config, v, nil
}

func decodeConfig(v *viper.Viper) (*domain.Config, error) {
	config := domain.DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Transfer.DocumentsDir = expandPath(config.Transfer.DocumentsDir)
	config.Transfer.DatabasePath = expandPath(config.Transfer.DatabasePath)
	config.Playback.TempRoot = expandPath(config.Playback.TempRoot)
	config.Transport.CAFile = expandPath(config.Transport.CAFile)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !domain.ValidateAuthMode(config.Auth.Mode) {
		return fmt.Errorf("unknown auth mode: %q", config.Auth.Mode)
	}

	if config.Transport.Timeout <= 0 {
		return fmt.Errorf("transport timeout must be positive")
	}

	if config.Transport.ProxyURL != "" && !strings.HasPrefix(config.Transport.ProxyURL, "socks5://") {
		return fmt.Errorf("only socks5:// proxies are supported: %s", config.Transport.ProxyURL)
	}

	if config.Transfer.DocumentsDir == "" {
		return fmt.Errorf("documents directory not configured")
	}

	if config.Playback.SessionTTL < 0 {
		return fmt.Errorf("session ttl cannot be negative")
	}

	if config.Playback.SweepInterval <= 0 {
		config.Playback.SweepInterval = domain.DefaultConfig().Playback.SweepInterval
	}

	if config.Playback.MediaExtension == "" {
		config.Playback.MediaExtension = ".mp4"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server", map[string]interface{}{
		"host": config.Server.Host,
		"port": config.Server.Port,
	})
	v.Set("nvr", map[string]interface{}{
		"base_url": config.NVR.BaseURL,
	})
	v.Set("auth", map[string]interface{}{
		"mode":          string(config.Auth.Mode),
		"bearer_token":  config.Auth.BearerToken,
		"device_token":  config.Auth.DeviceToken,
		"client_id":     config.Auth.ClientID,
		"client_secret": config.Auth.ClientSecret,
	})
	v.Set("transport", map[string]interface{}{
		"timeout":                config.Transport.Timeout.String(),
		"proxy_url":              config.Transport.ProxyURL,
		"trust_private_networks": config.Transport.TrustPrivateNetworks,
		"trust_link_local":       config.Transport.TrustLinkLocal,
		"ca_file":                config.Transport.CAFile,
	})
	v.Set("transfer", map[string]interface{}{
		"documents_dir": config.Transfer.DocumentsDir,
		"database_path": config.Transfer.DatabasePath,
	})
	v.Set("playback", map[string]interface{}{
		"temp_root":       config.Playback.TempRoot,
		"session_ttl":     config.Playback.SessionTTL.String(),
		"sweep_interval":  config.Playback.SweepInterval.String(),
		"media_extension": config.Playback.MediaExtension,
	})
	v.Set("notification", map[string]interface{}{
		"enabled": config.Notification.Enabled,
		"method":  config.Notification.Method,
	})
	v.Set("logging", map[string]interface{}{
		"level":       config.Logging.Level,
		"format":      config.Logging.Format,
		"output_path": config.Logging.OutputPath,
		"logs_dir":    config.Logging.LogsDir,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
