package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/mjehrhart/viewu-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T, settings *AuthSettings, client *http.Client) *SessionManager {
	t.Helper()
	sm := NewSessionManager(SessionManagerConfig{
		Settings: settings,
		Client:   client,
		Playback: domain.PlaybackConfig{
			TempRoot:      t.TempDir(),
			SessionTTL:    time.Minute,
			SweepInterval: 10 * time.Millisecond,
		},
	})
	t.Cleanup(sm.DisposeAll)
	return sm
}

func TestSessionManager_CreateTakesAuthSnapshot(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]http.Header{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.Header.Clone()
		mu.Unlock()
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	settings := NewAuthSettings(domain.AuthConfig{Mode: domain.AuthModeBearer, BearerToken: "first"}, nil)
	sm := newTestSessionManager(t, settings, server.Client())

	a, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/a.mp4", Strategy: domain.StrategyDownload})
	require.NoError(t, err)

	settings.Update(domain.AuthConfig{Mode: domain.AuthModeServiceToken, ClientID: "id", ClientSecret: "secret"})

	b, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/b.mp4", Strategy: domain.StrategyDownload})
	require.NoError(t, err)

	assert.Equal(t, domain.AuthModeBearer, a.AuthMode())
	assert.Equal(t, domain.AuthModeServiceToken, b.AuthMode())

	for _, s := range []*PlaybackSession{a, b} {
		_, err := waitSession(t, s)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer first", seen["/a.mp4"].Get("Authorization"))
	assert.Empty(t, seen["/a.mp4"].Get("CF-Access-Client-Id"))
	assert.Empty(t, seen["/b.mp4"].Get("Authorization"))
	assert.Equal(t, "id", seen["/b.mp4"].Get("CF-Access-Client-Id"))
}

func TestSessionManager_CreateValidates(t *testing.T) {
	sm := newTestSessionManager(t, nil, nil)

	_, err := sm.Create(domain.PlaybackRequest{})
	assert.Error(t, err)

	_, err = sm.Create(domain.PlaybackRequest{URL: "https://10.0.0.5/clip.mp4", Strategy: "teleport"})
	assert.Error(t, err)

	assert.Empty(t, sm.List())
}

func TestSessionManager_GetListDispose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	sm := newTestSessionManager(t, nil, server.Client())

	first, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/1.mp4"})
	require.NoError(t, err)
	second, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/2.mp4"})
	require.NoError(t, err)

	got, err := sm.Get(first.ID())
	require.NoError(t, err)
	assert.Same(t, first, got)

	views := sm.List()
	require.Len(t, views, 2)
	assert.Equal(t, first.ID(), views[0].ID)
	assert.Equal(t, second.ID(), views[1].ID)

	_, err = waitSession(t, first)
	require.NoError(t, err)
	tempDir := first.Snapshot().TempDirectory

	require.NoError(t, sm.Dispose(first.ID()))
	assert.NoDirExists(t, tempDir)
	assert.True(t, first.Snapshot().Disposed)

	_, err = sm.Get(first.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, sm.Dispose(first.ID()), domain.ErrSessionNotFound)
	assert.Len(t, sm.List(), 1)
}

func TestSessionManager_SweepDisposesExpiredTerminalSessions(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.mp4" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()
	defer close(release)

	sm := newTestSessionManager(t, nil, server.Client())

	failed, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/missing.mp4"})
	require.NoError(t, err)
	loading, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/slow.mp4"})
	require.NoError(t, err)

	view, _ := waitSession(t, failed)
	require.Equal(t, domain.SessionFailed, view.State)

	assert.Zero(t, sm.Sweep(time.Now()), "not expired yet")
	assert.Equal(t, 1, sm.Sweep(time.Now().Add(time.Hour)))

	_, err = sm.Get(failed.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.NoDirExists(t, view.TempDirectory)

	_, err = sm.Get(loading.ID())
	assert.NoError(t, err, "loading sessions are never swept")
}

func TestSessionManager_StartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(testutil.MinimalMP4())
	}))
	defer server.Close()

	sm := newTestSessionManager(t, nil, server.Client())
	assert.False(t, sm.IsRunning())

	require.NoError(t, sm.Start(context.Background()))
	assert.True(t, sm.IsRunning())
	assert.Error(t, sm.Start(context.Background()))

	s, err := sm.Create(domain.PlaybackRequest{URL: server.URL + "/clip.mp4"})
	require.NoError(t, err)
	_, err = waitSession(t, s)
	require.NoError(t, err)

	require.NoError(t, sm.Stop())
	assert.False(t, sm.IsRunning())
	assert.Error(t, sm.Stop())
	assert.True(t, s.Snapshot().Disposed)
	assert.Empty(t, sm.List())
}
