package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
)

func TestDestinationName(t *testing.T) {
	name, err := destinationName("https://nvr.local/api/events/abc/clip.mp4", "", ".mp4")
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", name)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	name, err = destinationName("https://nvr.local/api/events/abc/clip.mp4", start.Format(time.RFC3339), ".mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.ClipFileName(start, ".mp4"), name)

	_, err = destinationName("https://nvr.local/", "", ".mp4")
	assert.Error(t, err)

	_, err = destinationName("https://nvr.local/clip.mp4", "yesterday", ".mp4")
	assert.Error(t, err)
}

func TestEventsURL(t *testing.T) {
	old := serverURL
	defer func() { serverURL = old }()

	serverURL = "http://localhost:8971"
	u, err := eventsURL("abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8971/api/v1/sessions/abc/events", u)

	serverURL = "https://viewu.example/"
	u, err = eventsURL("abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://viewu.example/api/v1/sessions/abc/events", u)
}

func TestPlaybackURL(t *testing.T) {
	old := serverURL
	defer func() { serverURL = old }()
	serverURL = "http://localhost:8971"

	assert.Equal(t, "http://localhost:8971/api/v1/sessions/s1/media",
		playbackURL(domain.PlaybackSession{ID: "s1", Strategy: domain.StrategyDownload}))
	assert.Equal(t, "http://localhost:8971/api/v1/sessions/s1/stream/",
		playbackURL(domain.PlaybackSession{ID: "s1", Strategy: domain.StrategyStream}))
}
