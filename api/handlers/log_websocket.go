package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mjehrhart/viewu-sub000/pkg/logger"
	"go.uber.org/zap"
)

// LogWebSocketHandler streams new log entries of a category
type LogWebSocketHandler struct {
	logReader *logger.LogReader
	logger    *zap.Logger
}

// NewLogWebSocketHandler creates a new WebSocket handler
func NewLogWebSocketHandler(logsDir string, log *zap.Logger) *LogWebSocketHandler {
	return &LogWebSocketHandler{
		logReader: logger.NewLogReader(logsDir),
		logger:    log,
	}
}

// HandleWebSocket handles GET /api/v1/logs/:category/tail
func (h *LogWebSocketHandler) HandleWebSocket(c *gin.Context) {
	category, ok := parseCategory(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	// Send the last entries first
	if entries, err := h.logReader.ReadLogs(category, time.Now(), 50); err == nil {
		for _, entry := range entries {
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}

	ctx := c.Request.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	entryChan := make(chan logger.LogEntry, 100)
	tailErr := make(chan error, 1)
	tailCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		tailErr <- h.logReader.TailLogs(tailCtx, category, entryChan)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-entryChan:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				h.logger.Debug("Failed to send log entry", zap.Error(err))
				return
			}

		case err := <-tailErr:
			if err != nil {
				h.logger.Error("Log tailing error", zap.Error(err))
			}
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
