package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/mjehrhart/viewu-sub000/pkg/logger"
	"go.uber.org/zap"
)

// SessionManagerConfig wires the collaborators every session shares
type SessionManagerConfig struct {
	Settings     *AuthSettings
	Client       *http.Client
	Validator    domain.ArtifactValidator
	Players      domain.PlayerFactory
	Playback     domain.PlaybackConfig
	Logger       *zap.Logger
	MultiLogger  *logger.MultiLogger
	ProducersFor func(domain.AuthConfig) TokenProducers
}

// SessionManager keeps the live playback sessions and sweeps finished ones
type SessionManager struct {
	config   SessionManagerConfig
	logger   *zap.Logger
	sessions map[string]*PlaybackSession
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

// NewSessionManager creates a new session manager
func NewSessionManager(config SessionManagerConfig) *SessionManager {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Settings == nil {
		config.Settings = NewAuthSettings(domain.AuthConfig{Mode: domain.AuthModeNone}, config.Logger)
	}
	if config.ProducersFor == nil {
		config.ProducersFor = StaticTokenProducers
	}
	return &SessionManager{
		config:   config,
		logger:   config.MultiLogger.Tee(config.Logger, logger.CategorySession),
		sessions: make(map[string]*PlaybackSession),
		stopChan: make(chan struct{}),
	}
}

// Create registers a new session for req with a fresh auth snapshot and
// starts it
func (sm *SessionManager) Create(req domain.PlaybackRequest) (*PlaybackSession, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if req.Strategy != "" && !domain.ValidateStrategy(req.Strategy) {
		return nil, fmt.Errorf("invalid strategy: %s", req.Strategy)
	}

	auth := sm.config.Settings.Snapshot()
	session := NewPlaybackSession(SessionOptions{
		Request:        req,
		Auth:           auth,
		Producers:      sm.config.ProducersFor(auth),
		Client:         sm.config.Client,
		TempRoot:       sm.config.Playback.TempRoot,
		MediaExtension: sm.config.Playback.MediaExtension,
		Validator:      sm.config.Validator,
		Players:        sm.config.Players,
		Logger:         sm.logger,
	})

	sm.mu.Lock()
	sm.sessions[session.ID()] = session
	sm.mu.Unlock()

	sm.logger.Info("Session created",
		zap.String("session_id", session.ID()),
		zap.String("url", req.URL),
		zap.String("auth_mode", string(auth.Mode)))

	if err := session.Start(); err != nil {
		sm.Dispose(session.ID())
		return nil, err
	}
	return session, nil
}

// Get returns a session by id
func (sm *SessionManager) Get(id string) (*PlaybackSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, ok := sm.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// List returns snapshots of all sessions, oldest first
func (sm *SessionManager) List() []domain.PlaybackSession {
	sm.mu.RLock()
	sessions := make([]*PlaybackSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	views := make([]domain.PlaybackSession, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// Dispose removes a session and releases its resources
func (sm *SessionManager) Dispose(id string) error {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Dispose()
}

// DisposeAll disposes every session
func (sm *SessionManager) DisposeAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*PlaybackSession)
	sm.mu.Unlock()

	for _, s := range sessions {
		_ = s.Dispose()
	}
}

// Start starts the sweep loop
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return fmt.Errorf("session manager already running")
	}
	sm.running = true
	sm.mu.Unlock()

	sm.workerWg.Add(1)
	go sm.sweepLoop(ctx)
	return nil
}

// Stop stops the sweep loop and disposes every session
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	if !sm.running {
		sm.mu.Unlock()
		return fmt.Errorf("session manager not running")
	}
	sm.running = false
	sm.mu.Unlock()

	close(sm.stopChan)
	sm.workerWg.Wait()
	sm.DisposeAll()
	return nil
}

// IsRunning returns whether the sweep loop is running
func (sm *SessionManager) IsRunning() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.running
}

func (sm *SessionManager) sweepLoop(ctx context.Context) {
	defer sm.workerWg.Done()

	interval := sm.config.Playback.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case now := <-ticker.C:
			sm.Sweep(now)
		}
	}
}

// Sweep disposes terminal sessions that have not changed for longer than
// the session TTL. It returns how many were disposed.
func (sm *SessionManager) Sweep(now time.Time) int {
	ttl := sm.config.Playback.SessionTTL
	if ttl <= 0 {
		return 0
	}

	var expired []string
	sm.mu.RLock()
	for id, s := range sm.sessions {
		view := s.Snapshot()
		if view.State.IsTerminal() && now.Sub(view.UpdatedAt) > ttl {
			expired = append(expired, id)
		}
	}
	sm.mu.RUnlock()

	for _, id := range expired {
		if err := sm.Dispose(id); err == nil {
			sm.logger.Info("Session expired", zap.String("session_id", id))
		}
	}
	return len(expired)
}
