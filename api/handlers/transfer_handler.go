package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mjehrhart/viewu-sub000/internal/app"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

// TransferHandler handles save-to-documents transfers and their history
type TransferHandler struct {
	transfers    *app.TransferManager
	history      domain.TransferRepository
	settings     *app.AuthSettings
	producersFor func(domain.AuthConfig) app.TokenProducers
	extension    string
	logger       *zap.Logger
}

// NewTransferHandler creates a new transfer handler. history may be nil, in
// which case only live transfers are reported.
func NewTransferHandler(
	transfers *app.TransferManager,
	history domain.TransferRepository,
	settings *app.AuthSettings,
	producersFor func(domain.AuthConfig) app.TokenProducers,
	extension string,
	logger *zap.Logger,
) *TransferHandler {
	if producersFor == nil {
		producersFor = app.StaticTokenProducers
	}
	if settings == nil {
		settings = app.NewAuthSettings(domain.AuthConfig{Mode: domain.AuthModeNone}, logger)
	}
	return &TransferHandler{
		transfers:    transfers,
		history:      history,
		settings:     settings,
		producersFor: producersFor,
		extension:    extension,
		logger:       logger,
	}
}

// StartTransferRequest represents a request to save a clip. When no
// destination name is given, the clip start time names the file.
type StartTransferRequest struct {
	URL             string     `json:"url" binding:"required"`
	DestinationName string     `json:"destination_name,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
}

// TransferView is the JSON form of a live transfer
type TransferView struct {
	ID              string               `json:"id"`
	SessionID       string               `json:"session_id,omitempty"`
	SourceURL       string               `json:"source_url"`
	DestinationName string               `json:"destination_name"`
	State           domain.TransferState `json:"state"`
	Progress        float64              `json:"progress"`
	BytesWritten    int64                `json:"bytes_written"`
	TotalBytes      int64                `json:"total_bytes"`
	CreatedAt       time.Time            `json:"created_at"`
}

func newTransferView(task domain.TransferTask) TransferView {
	return TransferView{
		ID:              task.ID,
		SessionID:       task.SessionID,
		SourceURL:       task.SourceURL,
		DestinationName: task.DestinationName,
		State:           task.State,
		Progress:        task.Progress,
		BytesWritten:    task.BytesWritten,
		TotalBytes:      task.TotalBytes,
		CreatedAt:       task.CreatedAt,
	}
}

// StartTransfer handles POST /api/v1/transfers
func (h *TransferHandler) StartTransfer(c *gin.Context) {
	var req StartTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := req.DestinationName
	if name == "" && req.StartTime != nil {
		name = domain.ClipFileName(*req.StartTime, h.extension)
	}

	auth := h.settings.Snapshot()
	headers, err := app.ResolveHeaders(c.Request.Context(), auth, h.producersFor(auth))
	if err != nil {
		h.logger.Warn("Failed to resolve auth headers", zap.String("mode", string(auth.Mode)), zap.Error(err))
		respondError(c, err)
		return
	}

	handle, err := h.transfers.Start(c.Request.Context(), app.StartRequest{
		URL:             req.URL,
		Headers:         headers,
		DestinationName: name,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":          handle.ID,
		"destination": handle.Destination,
		"state":       handle.State(),
	})
}

// ListTransfers handles GET /api/v1/transfers
func (h *TransferHandler) ListTransfers(c *gin.Context) {
	if h.history == nil {
		views := make([]TransferView, 0)
		for _, task := range h.transfers.Active() {
			views = append(views, newTransferView(task))
		}
		c.JSON(http.StatusOK, views)
		return
	}

	filters := make(map[string]interface{})
	if state := c.Query("state"); state != "" {
		filters["state"] = state
	}
	if sessionID := c.Query("session_id"); sessionID != "" {
		filters["session_id"] = sessionID
	}

	records, err := h.history.FindAll(filters)
	if err != nil {
		h.logger.Error("Failed to list transfers", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetStats handles GET /api/v1/transfers/stats
func (h *TransferHandler) GetStats(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transfer history disabled"})
		return
	}
	stats, err := h.history.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTransfer handles GET /api/v1/transfers/:id. Live transfers are
// reported with their current progress, finished ones from history.
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	id := c.Param("id")

	task, err := h.transfers.Get(id)
	if err == nil {
		c.JSON(http.StatusOK, newTransferView(task))
		return
	}
	if !errors.Is(err, domain.ErrTransferNotFound) || h.history == nil {
		respondError(c, err)
		return
	}

	record, err := h.history.FindByID(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// CancelTransfer handles POST /api/v1/transfers/:id/cancel
func (h *TransferHandler) CancelTransfer(c *gin.Context) {
	id := c.Param("id")

	if err := h.transfers.CancelByID(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transfer cancelled"})
}
