package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/mjehrhart/viewu-sub000/internal/infrastructure"
	"github.com/mjehrhart/viewu-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	ready  chan struct{}
	closed atomic.Bool
}

func (p *fakePlayer) Ready() <-chan struct{} { return p.ready }
func (p *fakePlayer) Close() error {
	p.closed.Store(true)
	return nil
}

type fakePlayerFactory struct {
	mu      sync.Mutex
	assets  []domain.Asset
	players []*fakePlayer
	err     error
}

func (f *fakePlayerFactory) NewPlayer(ctx context.Context, asset domain.Asset) (domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePlayer{ready: make(chan struct{})}
	f.assets = append(f.assets, asset)
	f.players = append(f.players, p)
	return p, nil
}

func (f *fakePlayerFactory) last() (*fakePlayer, domain.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[len(f.players)-1], f.assets[len(f.assets)-1]
}

func newTLSClient(t *testing.T) *http.Client {
	t.Helper()
	client, err := infrastructure.NewHTTPClient(domain.TransportConfig{Timeout: 5 * time.Second},
		infrastructure.PrivateNetworkPolicy{AllowLinkLocal: true}, nil)
	require.NoError(t, err)
	return client
}

func newDownloadSession(t *testing.T, url string, client *http.Client) (*PlaybackSession, string) {
	t.Helper()
	root := t.TempDir()
	s := NewPlaybackSession(SessionOptions{
		Request:   domain.PlaybackRequest{URL: url, Strategy: domain.StrategyDownload},
		Auth:      domain.AuthConfig{Mode: domain.AuthModeNone},
		Client:    client,
		TempRoot:  root,
		Validator: infrastructure.NewMediaValidator(nil),
	})
	t.Cleanup(func() { s.Dispose() })
	return s, root
}

func waitSession(t *testing.T, s *PlaybackSession) (domain.PlaybackSession, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	view, err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return view, err
}

func TestPlaybackSession_DownloadReady(t *testing.T) {
	payload := testutil.MinimalMP4()
	var sawUserAgent string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUserAgent = r.Header.Get("User-Agent")
		w.Write(payload)
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", newTLSClient(t))
	require.NoError(t, s.Start())

	view, err := waitSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, view.State)
	assert.Equal(t, 1.0, view.Progress)
	assert.Equal(t, domain.StrategyDownload, view.Strategy)
	assert.Equal(t, "viewu/1.0", sawUserAgent)

	require.NotEmpty(t, view.LocalArtifactPath)
	got, err := os.ReadFile(view.LocalArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, view.TempDirectory, filepath.Dir(view.LocalArtifactPath))

	require.NoError(t, s.Dispose())
	assert.NoDirExists(t, view.TempDirectory)
}

func TestPlaybackSession_HTTPStatusFails(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", newTLSClient(t))
	require.NoError(t, s.Start())

	view, err := waitSession(t, s)
	assert.ErrorIs(t, err, domain.NewHTTPStatusError(404))
	assert.Equal(t, domain.SessionFailed, view.State)
	assert.Equal(t, "http_status", view.ErrorKind)
	assert.Equal(t, "The recorder answered with status 404.", view.Message)
	assert.Empty(t, view.LocalArtifactPath)

	_, statErr := os.Stat(filepath.Join(view.TempDirectory, "clip.mp4"))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, s.Dispose())
	assert.NoDirExists(t, view.TempDirectory)
}

func TestPlaybackSession_HTMLIsNotAVideo(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testutil.HTMLErrorPage))
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", newTLSClient(t))
	require.NoError(t, s.Start())

	view, err := waitSession(t, s)
	assert.ErrorIs(t, err, domain.ErrNotAVideo)
	assert.Equal(t, domain.SessionFailed, view.State)
	assert.Equal(t, "not_a_video", view.ErrorKind)

	// The bad file is gone before teardown
	_, statErr := os.Stat(filepath.Join(view.TempDirectory, "clip.mp4"))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, s.Dispose())
	assert.NoDirExists(t, view.TempDirectory)
}

func TestPlaybackSession_DisposeWhileLoading(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	s, root := newDownloadSession(t, server.URL+"/clip.mp4", server.Client())
	require.NoError(t, s.Start())
	<-started

	require.Eventually(t, func() bool { return s.Snapshot().TempDirectory != "" }, 5*time.Second, 10*time.Millisecond)
	tempDir := s.Snapshot().TempDirectory
	assert.DirExists(t, tempDir)

	require.NoError(t, s.Dispose())
	assert.NoDirExists(t, tempDir)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionDisposed)
	assert.ErrorIs(t, s.Start(), domain.ErrSessionDisposed)
	assert.NoError(t, s.Dispose())
}

func TestPlaybackSession_ResetWhileLoadingStartsFreshAttempt(t *testing.T) {
	payload := testutil.MinimalMP4()
	var requests atomic.Int32
	stalled := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Length", "1048576")
			w.Write(make([]byte, 1024))
			w.(http.Flusher).Flush()
			close(stalled)
			<-r.Context().Done()
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", server.Client())
	require.NoError(t, s.Start())
	<-stalled

	require.Eventually(t, func() bool { return s.Snapshot().TempDirectory != "" }, 5*time.Second, 10*time.Millisecond)
	firstDir := s.Snapshot().TempDirectory

	require.NoError(t, s.Reset())
	assert.Equal(t, domain.SessionIdle, s.Snapshot().State)
	assert.NoDirExists(t, firstDir)

	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, view.State)
	assert.NotEqual(t, firstDir, view.TempDirectory)

	got, err := os.ReadFile(view.LocalArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int32(2), requests.Load())
}

func TestPlaybackSession_StartIsIdempotent(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", server.Client())
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, domain.SessionLoading, s.Snapshot().State)

	close(release)
	view, err := waitSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, view.State)

	// Ready ignores further starts
	require.NoError(t, s.Start())
	assert.Equal(t, int32(1), requests.Load())
}

func TestPlaybackSession_FailedNeedsReset(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", server.Client())
	require.NoError(t, s.Start())
	view, _ := waitSession(t, s)
	require.Equal(t, domain.SessionFailed, view.State)
	firstTemp := view.TempDirectory

	assert.ErrorIs(t, s.Start(), domain.ErrSessionTerminal)

	require.NoError(t, s.Reset())
	reset := s.Snapshot()
	assert.Equal(t, domain.SessionIdle, reset.State)
	assert.Empty(t, reset.ErrorKind)
	assert.Empty(t, reset.TempDirectory)
	assert.NoDirExists(t, firstTemp)

	fail.Store(false)
	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, view.State)
	assert.NotEqual(t, firstTemp, view.TempDirectory)
}

func TestPlaybackSession_TokenFailureSendsNothing(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	s := NewPlaybackSession(SessionOptions{
		Request: domain.PlaybackRequest{URL: server.URL + "/clip.mp4"},
		Auth:    domain.AuthConfig{Mode: domain.AuthModeBearer},
		Producers: TokenProducers{Bearer: domain.TokenProducerFunc(func(ctx context.Context) (string, error) {
			return "", errors.New("signer offline")
		})},
		Client:   server.Client(),
		TempRoot: t.TempDir(),
	})
	defer s.Dispose()

	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	assert.ErrorIs(t, err, domain.ErrTokenUnavailable)
	assert.Equal(t, domain.SessionFailed, view.State)
	assert.Equal(t, "token_unavailable", view.ErrorKind)
	assert.Empty(t, view.TempDirectory)
	assert.Zero(t, requests.Load())
}

func TestPlaybackSession_StreamReadyBeforeRender(t *testing.T) {
	players := &fakePlayerFactory{}
	s := NewPlaybackSession(SessionOptions{
		Request:   domain.PlaybackRequest{URL: "https://192.168.1.50:8971/api/cam1/index.m3u8"},
		Auth:      domain.AuthConfig{Mode: domain.AuthModeServiceToken, ClientID: "id", ClientSecret: "secret"},
		Players:   players,
		TempRoot:  t.TempDir(),
		Validator: infrastructure.NewMediaValidator(nil),
	})
	defer s.Dispose()

	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, view.State)
	assert.Equal(t, domain.StrategyStream, view.Strategy)
	assert.False(t, view.RenderReady)
	assert.Empty(t, view.TempDirectory, "streaming needs no local storage")

	player, asset := players.last()
	assert.Equal(t, "id", asset.Headers.Get("CF-Access-Client-Id"))
	assert.Equal(t, "secret", asset.Headers.Get("CF-Access-Client-Secret"))
	assert.Same(t, player, s.Player())

	close(player.ready)
	require.Eventually(t, func() bool { return s.Snapshot().RenderReady }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.SessionReady, s.Snapshot().State)

	require.NoError(t, s.Dispose())
	assert.True(t, player.closed.Load())
}

func TestPlaybackSession_PlayerErrorFails(t *testing.T) {
	s := NewPlaybackSession(SessionOptions{
		Request: domain.PlaybackRequest{URL: "https://10.0.0.5/live/cam1", Strategy: domain.StrategyStream},
		Players: &fakePlayerFactory{err: errors.New("decoder unavailable")},
	})
	defer s.Dispose()

	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	require.Error(t, err)
	assert.Equal(t, domain.SessionFailed, view.State)
	assert.Equal(t, "Playback failed.", view.Message)
}

func TestPlaybackSession_Events(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	s, _ := newDownloadSession(t, server.URL+"/clip.mp4", server.Client())
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Start())
	_, err := waitSession(t, s)
	require.NoError(t, err)
	require.NoError(t, s.Dispose())

	var states []domain.SessionState
	lastProgress := 0.0
	for ev := range events {
		assert.Equal(t, s.ID(), ev.SessionID)
		assert.GreaterOrEqual(t, ev.Progress, lastProgress)
		lastProgress = ev.Progress
		if len(states) == 0 || states[len(states)-1] != ev.State {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []domain.SessionState{domain.SessionIdle, domain.SessionLoading, domain.SessionReady}, states)
}

func TestPlaybackSession_MissingDestinationName(t *testing.T) {
	s := NewPlaybackSession(SessionOptions{
		Request:  domain.PlaybackRequest{URL: "https://192.168.1.50:8971/", Strategy: domain.StrategyDownload},
		TempRoot: t.TempDir(),
	})
	defer s.Dispose()

	require.NoError(t, s.Start())
	view, err := waitSession(t, s)
	assert.ErrorIs(t, err, domain.ErrMissingFilename)
	assert.Empty(t, view.TempDirectory)
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "clip.mp4", artifactName("https://nvr/api/events/1/clip.mp4", ".mp4"))
	assert.Equal(t, "clip.mp4", artifactName("https://nvr/api/events/1/clip", ".mp4"))
	assert.Equal(t, "", artifactName("https://nvr/", ".mp4"))
	assert.Equal(t, "", artifactName("https://nvr", ".mp4"))
}
