package domain

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// SessionState is the coordinator state of one playback attempt
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionLoading SessionState = "loading"
	SessionReady   SessionState = "ready"
	SessionFailed  SessionState = "failed"
)

// IsTerminal reports whether the state ends the attempt
func (s SessionState) IsTerminal() bool {
	return s == SessionReady || s == SessionFailed
}

// PlaybackStrategy chooses between streaming and download-then-play
type PlaybackStrategy string

const (
	StrategyAuto     PlaybackStrategy = "auto"
	StrategyStream   PlaybackStrategy = "stream"
	StrategyDownload PlaybackStrategy = "download"
)

// ValidateStrategy checks if a strategy is valid
func ValidateStrategy(strategy PlaybackStrategy) bool {
	return strategy == StrategyAuto || strategy == StrategyStream || strategy == StrategyDownload
}

// ResolveStrategy turns auto into a concrete strategy for rawURL. HLS
// playlists and live paths stream, everything else is downloaded first.
func ResolveStrategy(strategy PlaybackStrategy, rawURL string) PlaybackStrategy {
	if strategy == StrategyStream || strategy == StrategyDownload {
		return strategy
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return StrategyDownload
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps", "ws", "wss":
		return StrategyStream
	}
	p := strings.ToLower(u.Path)
	if strings.EqualFold(path.Ext(p), ".m3u8") || strings.Contains(p, "/live/") {
		return StrategyStream
	}
	return StrategyDownload
}

// PlaybackRequest is what the presentation layer asks for
type PlaybackRequest struct {
	URL             string           `json:"url"`
	Strategy        PlaybackStrategy `json:"strategy,omitempty"`
	DestinationName string           `json:"destination_name,omitempty"`
}

// PlaybackSession is a point-in-time view of a session
type PlaybackSession struct {
	ID                string           `json:"id"`
	RequestURL        string           `json:"request_url"`
	Strategy          PlaybackStrategy `json:"strategy"`
	State             SessionState     `json:"state"`
	Progress          float64          `json:"progress"`
	RenderReady       bool             `json:"render_ready"`
	LocalArtifactPath string           `json:"local_artifact_path,omitempty"`
	TempDirectory     string           `json:"temp_directory,omitempty"`
	ErrorKind         string           `json:"error_kind,omitempty"`
	Message           string           `json:"message,omitempty"`
	Disposed          bool             `json:"disposed"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// SessionEvent is pushed to observers on every transition or progress step
type SessionEvent struct {
	SessionID   string       `json:"session_id"`
	State       SessionState `json:"state"`
	Progress    float64      `json:"progress"`
	RenderReady bool         `json:"render_ready"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	// Status is a human-readable note for logs, never a control signal.
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Asset is a remote media resource with everything needed to fetch it
type Asset struct {
	URL     string
	Headers http.Header
	Client  *http.Client
}

// Player renders a streaming asset
type Player interface {
	// Ready is closed once the media pipeline can render
	Ready() <-chan struct{}
	Close() error
}

// PlayerFactory builds a player for an asset
type PlayerFactory interface {
	NewPlayer(ctx context.Context, asset Asset) (Player, error)
}

// ArtifactValidator checks a downloaded file before it is played
type ArtifactValidator interface {
	// Validate returns an error matching ErrNotAVideo when the file has no
	// decodable video track.
	Validate(path string) error
}

// TrustPolicy decides whether an otherwise invalid server certificate is
// accepted for host
type TrustPolicy interface {
	ShouldTrust(host string) bool
}

// TrustPolicyFunc adapts a function to TrustPolicy
type TrustPolicyFunc func(host string) bool

// ShouldTrust calls f(host)
func (f TrustPolicyFunc) ShouldTrust(host string) bool {
	return f(host)
}
