package app

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AuthSettings hands out AuthConfig snapshots. A session takes one snapshot
// when it is created and keeps it for its whole life; edits to the config
// file only reach sessions created afterwards.
type AuthSettings struct {
	mu      sync.RWMutex
	current domain.AuthConfig
	logger  *zap.Logger
}

// NewAuthSettings creates a static settings source
func NewAuthSettings(initial domain.AuthConfig, logger *zap.Logger) *AuthSettings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthSettings{current: initial, logger: logger}
}

// LoadWatchedSettings loads configuration and, when a config file was
// found, keeps AuthSettings in sync with it
func LoadWatchedSettings(configPath string, logger *zap.Logger) (*domain.Config, *AuthSettings, error) {
	config, v, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	settings := NewAuthSettings(config.Auth, logger)
	if v.ConfigFileUsed() != "" {
		settings.watch(v)
	}
	return config, settings, nil
}

func (s *AuthSettings) watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s.mu.RLock()
		logger := s.logger
		s.mu.RUnlock()

		config, err := decodeConfig(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		s.Update(config.Auth)
		logger.Info("Auth settings reloaded",
			zap.String("file", e.Name),
			zap.String("mode", string(config.Auth.Mode)))
	})
	v.WatchConfig()
}

// Snapshot returns a copy of the current settings
func (s *AuthSettings) Snapshot() domain.AuthConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update replaces the current settings
func (s *AuthSettings) Update(config domain.AuthConfig) {
	s.mu.Lock()
	s.current = config
	s.mu.Unlock()
}

// SetLogger replaces the logger used for reload messages
func (s *AuthSettings) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}
