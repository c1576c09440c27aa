package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

const (
	sessionTempPattern = "viewu-session-*"
	subscriberBuffer   = 32
)

// SessionOptions configures a PlaybackSession
type SessionOptions struct {
	ID        string
	Request   domain.PlaybackRequest
	Auth      domain.AuthConfig
	Producers TokenProducers
	Client    *http.Client
	// TempRoot is where the session's temp directory is created; empty
	// means the system temp directory.
	TempRoot       string
	MediaExtension string
	Validator      domain.ArtifactValidator
	Players        domain.PlayerFactory
	Logger         *zap.Logger
}

// PlaybackSession coordinates one playback attempt and owns every local
// resource it creates. Dispose must be called on every exit path.
type PlaybackSession struct {
	id        string
	request   domain.PlaybackRequest
	auth      domain.AuthConfig
	producers TokenProducers
	client    *http.Client
	tempRoot  string
	extension string
	validator domain.ArtifactValidator
	players   domain.PlayerFactory
	logger    *zap.Logger
	createdAt time.Time

	mu           sync.Mutex
	state        domain.SessionState
	strategy     domain.PlaybackStrategy
	progress     float64
	renderReady  bool
	artifactPath string
	tempDir      string
	transfers    *TransferManager
	player       domain.Player
	lastErr      error
	attempt      uint64
	cancelLoad   context.CancelFunc
	loadDone     chan struct{}
	disposed     bool
	updatedAt    time.Time
	changed      chan struct{}
	subscribers  map[int]chan domain.SessionEvent
	nextSub      int
}

// NewPlaybackSession creates an idle session. The AuthConfig in opts is a
// snapshot and is never re-read.
func NewPlaybackSession(opts SessionOptions) *PlaybackSession {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	ext := opts.MediaExtension
	if ext == "" {
		ext = ".mp4"
	}
	strategy := opts.Request.Strategy
	if strategy == "" {
		strategy = domain.StrategyAuto
	}
	now := time.Now()
	return &PlaybackSession{
		id:          id,
		request:     opts.Request,
		auth:        opts.Auth,
		producers:   opts.Producers,
		client:      client,
		tempRoot:    opts.TempRoot,
		extension:   ext,
		validator:   opts.Validator,
		players:     opts.Players,
		logger:      logger.With(zap.String("session_id", id)),
		createdAt:   now,
		state:       domain.SessionIdle,
		strategy:    strategy,
		updatedAt:   now,
		changed:     make(chan struct{}),
		subscribers: make(map[int]chan domain.SessionEvent),
	}
}

// ID returns the session id
func (s *PlaybackSession) ID() string {
	return s.id
}

// AuthMode returns the mode captured when the session was created
func (s *PlaybackSession) AuthMode() domain.AuthMode {
	return s.auth.Mode
}

// Start begins loading. It is ignored while loading or ready and refused
// after a failure until Reset is called.
func (s *PlaybackSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return domain.ErrSessionDisposed
	}
	switch s.state {
	case domain.SessionLoading, domain.SessionReady:
		return nil
	case domain.SessionFailed:
		return domain.ErrSessionTerminal
	}

	s.attempt++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelLoad = cancel
	s.loadDone = done
	s.lastErr = nil
	s.progress = 0
	s.transitionLocked(domain.SessionLoading, "loading "+s.request.URL)

	go s.load(ctx, s.attempt, done)
	return nil
}

func (s *PlaybackSession) load(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	headers, err := ResolveHeaders(ctx, s.auth, s.producers)
	if err != nil {
		s.fail(gen, err)
		return
	}
	s.logger.Debug("Resolved auth headers",
		zap.String("mode", string(s.auth.Mode)),
		zap.Strings("headers", headers.Names()))

	strategy := domain.ResolveStrategy(s.request.Strategy, s.request.URL)
	s.mu.Lock()
	if gen != s.attempt {
		s.mu.Unlock()
		return
	}
	s.strategy = strategy
	s.mu.Unlock()

	if strategy == domain.StrategyStream {
		s.loadStream(ctx, gen, headers)
		return
	}
	s.loadDownload(ctx, gen, headers)
}

func (s *PlaybackSession) loadStream(ctx context.Context, gen uint64, headers domain.AuthHeaders) {
	if s.players == nil {
		s.fail(gen, errors.New("streaming is not available"))
		return
	}
	player, err := s.players.NewPlayer(ctx, domain.Asset{
		URL:     s.request.URL,
		Headers: headers.HTTPHeader(),
		Client:  s.client,
	})
	if err != nil {
		s.fail(gen, fmt.Errorf("failed to create player: %w", err))
		return
	}

	s.mu.Lock()
	if gen != s.attempt || s.disposed {
		s.mu.Unlock()
		_ = player.Close()
		return
	}
	s.player = player
	s.transitionLocked(domain.SessionReady, "player created")
	s.mu.Unlock()

	select {
	case <-player.Ready():
		s.mu.Lock()
		if gen == s.attempt && !s.disposed {
			s.renderReady = true
			s.emitLocked("ready to render")
		}
		s.mu.Unlock()
	case <-ctx.Done():
	}
}

func (s *PlaybackSession) loadDownload(ctx context.Context, gen uint64, headers domain.AuthHeaders) {
	name := s.request.DestinationName
	if name == "" {
		name = artifactName(s.request.URL, s.extension)
	}
	if err := domain.ValidateDestinationName(name); err != nil {
		s.fail(gen, err)
		return
	}

	transfers, err := s.ensureTransfers(gen)
	if err != nil {
		s.fail(gen, err)
		return
	}

	handle, err := transfers.Start(ctx, StartRequest{
		SessionID:       s.id,
		URL:             s.request.URL,
		Headers:         headers,
		DestinationName: name,
		OnProgress: func(p float64) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen != s.attempt || p <= s.progress {
				return
			}
			s.progress = p
			s.emitLocked("downloading")
		},
	})
	if err != nil {
		s.fail(gen, err)
		return
	}
	filePath, err := handle.Wait(ctx)
	if err != nil {
		s.fail(gen, err)
		return
	}

	if s.validator != nil {
		if err := s.validator.Validate(filePath); err != nil {
			removeQuietly(filePath)
			s.fail(gen, err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.attempt || s.disposed {
		return
	}
	s.artifactPath = filePath
	s.progress = 1
	s.transitionLocked(domain.SessionReady, "downloaded "+path.Base(filePath))
}

// ensureTransfers lazily creates the temp directory and the transfer
// manager rooted in it
func (s *PlaybackSession) ensureTransfers(gen uint64) (*TransferManager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.attempt || s.disposed {
		return nil, &domain.TransferError{Kind: domain.ErrorKindCancelled, Err: context.Canceled}
	}
	if s.transfers != nil {
		return s.transfers, nil
	}
	if s.tempDir == "" {
		if s.tempRoot != "" {
			if err := os.MkdirAll(s.tempRoot, 0755); err != nil {
				return nil, fmt.Errorf("failed to create temp root: %w", err)
			}
		}
		dir, err := os.MkdirTemp(s.tempRoot, sessionTempPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		s.tempDir = dir
		s.logger.Debug("Created session directory", zap.String("dir", dir))
	}
	transfers, err := NewTransferManager(s.client, s.tempDir, s.logger)
	if err != nil {
		return nil, err
	}
	s.transfers = transfers
	return transfers, nil
}

func (s *PlaybackSession) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.attempt || s.disposed || s.state != domain.SessionLoading {
		return
	}
	s.lastErr = err
	s.transitionLocked(domain.SessionFailed, domain.UserMessage(err))
	s.logger.Warn("Playback failed",
		zap.String("kind", domain.ErrorKind(err)),
		zap.Error(err))
}

// Reset returns the session to idle from any state, releasing the player,
// transfers and temp directory of the previous attempt
func (s *PlaybackSession) Reset() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrSessionDisposed
	}
	res := s.detachLocked()
	s.artifactPath = ""
	s.progress = 0
	s.renderReady = false
	s.lastErr = nil
	s.transitionLocked(domain.SessionIdle, "reset")
	s.mu.Unlock()

	res.release(s.logger)
	return nil
}

// Dispose tears the session down. It cancels transfers, closes the player
// and deletes the temp directory whatever state the session is in. Safe to
// call more than once.
func (s *PlaybackSession) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	res := s.detachLocked()
	s.disposed = true
	s.emitLocked("disposed")
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.signalLocked()
	s.mu.Unlock()

	res.release(s.logger)
	s.logger.Info("Session disposed", zap.String("temp_dir", res.tempDir))
	return nil
}

type sessionResources struct {
	cancel    context.CancelFunc
	loadDone  chan struct{}
	transfers *TransferManager
	player    domain.Player
	tempDir   string
}

// detachLocked hands the current resources to the caller and invalidates
// the running attempt
func (s *PlaybackSession) detachLocked() sessionResources {
	res := sessionResources{
		cancel:    s.cancelLoad,
		loadDone:  s.loadDone,
		transfers: s.transfers,
		player:    s.player,
		tempDir:   s.tempDir,
	}
	s.attempt++
	s.cancelLoad = nil
	s.loadDone = nil
	s.transfers = nil
	s.player = nil
	s.tempDir = ""
	return res
}

// release runs without the session lock; progress callbacks need it
func (r sessionResources) release(logger *zap.Logger) {
	if r.cancel != nil {
		r.cancel()
	}
	if r.transfers != nil {
		r.transfers.CancelAll()
		_ = r.transfers.Close()
	}
	if r.loadDone != nil {
		<-r.loadDone
	}
	if r.player != nil {
		if err := r.player.Close(); err != nil {
			logger.Warn("Failed to close player", zap.Error(err))
		}
	}
	if r.tempDir != "" {
		if err := os.RemoveAll(r.tempDir); err != nil {
			logger.Error("Failed to remove session directory", zap.String("dir", r.tempDir), zap.Error(err))
		}
	}
}

// Wait blocks until the session leaves the loading state
func (s *PlaybackSession) Wait(ctx context.Context) (domain.PlaybackSession, error) {
	for {
		s.mu.Lock()
		state := s.state
		disposed := s.disposed
		changed := s.changed
		err := s.lastErr
		s.mu.Unlock()

		if disposed {
			return s.Snapshot(), domain.ErrSessionDisposed
		}
		if state != domain.SessionLoading {
			return s.Snapshot(), err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Snapshot returns the current view of the session
func (s *PlaybackSession) Snapshot() domain.PlaybackSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *PlaybackSession) snapshotLocked() domain.PlaybackSession {
	view := domain.PlaybackSession{
		ID:                s.id,
		RequestURL:        s.request.URL,
		Strategy:          s.strategy,
		State:             s.state,
		Progress:          s.progress,
		RenderReady:       s.renderReady,
		LocalArtifactPath: s.artifactPath,
		TempDirectory:     s.tempDir,
		Disposed:          s.disposed,
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.updatedAt,
	}
	if s.lastErr != nil {
		view.ErrorKind = domain.ErrorKind(s.lastErr)
		view.Message = domain.UserMessage(s.lastErr)
	}
	return view
}

// Err returns the error that failed the session, if any
func (s *PlaybackSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Player returns the streaming player once the session is ready
func (s *PlaybackSession) Player() domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// ArtifactPath returns the downloaded file once the session is ready
func (s *PlaybackSession) ArtifactPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifactPath
}

// Subscribe returns a channel of session events and a function that ends
// the subscription. The channel is closed on Dispose.
func (s *PlaybackSession) Subscribe() (<-chan domain.SessionEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.SessionEvent, subscriberBuffer)
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.eventLocked("subscribed")

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			close(sub)
			delete(s.subscribers, id)
		}
	}
}

func (s *PlaybackSession) transitionLocked(state domain.SessionState, status string) {
	s.state = state
	s.logger.Info("Session state changed",
		zap.String("state", string(state)),
		zap.String("status", status))
	s.emitLocked(status)
	s.signalLocked()
}

func (s *PlaybackSession) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *PlaybackSession) eventLocked(status string) domain.SessionEvent {
	ev := domain.SessionEvent{
		SessionID:   s.id,
		State:       s.state,
		Progress:    s.progress,
		RenderReady: s.renderReady,
		Status:      status,
		At:          time.Now(),
	}
	if s.lastErr != nil {
		ev.ErrorKind = domain.ErrorKind(s.lastErr)
	}
	return ev
}

// emitLocked fans an event out without blocking. A full subscriber loses
// its oldest event.
func (s *PlaybackSession) emitLocked(status string) {
	s.updatedAt = time.Now()
	ev := s.eventLocked(status)
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// artifactName derives a file name from the last path element of rawURL
func artifactName(rawURL, ext string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	if path.Ext(base) == "" {
		base += ext
	}
	return base
}
