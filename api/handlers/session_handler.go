package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mjehrhart/viewu-sub000/internal/app"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

// SessionHandler handles playback session requests
type SessionHandler struct {
	sessions *app.SessionManager
	logger   *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *app.SessionManager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// CreateSessionRequest represents a request to open a playback session
type CreateSessionRequest struct {
	URL             string `json:"url" binding:"required"`
	Strategy        string `json:"strategy,omitempty"`
	DestinationName string `json:"destination_name,omitempty"`
}

// CreateSession handles POST /api/v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy := domain.PlaybackStrategy(req.Strategy)
	if strategy != "" && !domain.ValidateStrategy(strategy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy"})
		return
	}

	session, err := h.sessions.Create(domain.PlaybackRequest{
		URL:             req.URL,
		Strategy:        strategy,
		DestinationName: req.DestinationName,
	})
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session.Snapshot())
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.List())
}

// GetSession handles GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// ResetSession handles POST /api/v1/sessions/:id/reset. A start=true
// query parameter starts the next attempt right away.
func (h *SessionHandler) ResetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := session.Reset(); err != nil {
		respondError(c, err)
		return
	}
	if c.Query("start") == "true" {
		if err := session.Start(); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// DisposeSession handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) DisposeSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Dispose(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session disposed"})
}

// ServeMedia handles GET /api/v1/sessions/:id/media. It serves the
// validated local artifact of a ready download session.
func (h *SessionHandler) ServeMedia(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	path := session.ArtifactPath()
	if path == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "session has no local media"})
		return
	}
	c.File(path)
}

// ServeStream handles GET /api/v1/sessions/:id/stream/*path by relaying to
// the session's streaming player
func (h *SessionHandler) ServeStream(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	relay, ok := session.Player().(http.Handler)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not streaming"})
		return
	}

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = c.Param("path")
	relay.ServeHTTP(c.Writer, req)
}
