package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mjehrhart/viewu-sub000/api/handlers"
	"github.com/mjehrhart/viewu-sub000/api/middleware"
	"github.com/mjehrhart/viewu-sub000/internal/app"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/mjehrhart/viewu-sub000/pkg/logger"
)

// Services are the collaborators the router exposes
type Services struct {
	Sessions       *app.SessionManager
	Transfers      *app.TransferManager
	History        domain.TransferRepository
	Settings       *app.AuthSettings
	ProducersFor   func(domain.AuthConfig) app.TokenProducers
	MediaExtension string
	LogsDir        string
	Logger         *zap.Logger
	MultiLogger    *logger.MultiLogger
}

// SetupRouter sets up the HTTP router
func SetupRouter(s Services) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(s.Logger, s.MultiLogger))
	router.Use(middleware.Recovery(s.Logger))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(s.Sessions)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		sessionHandler := handlers.NewSessionHandler(s.Sessions, s.Logger)
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("", sessionHandler.ListSessions)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.POST("/:id/reset", sessionHandler.ResetSession)
			sessions.DELETE("/:id", sessionHandler.DisposeSession)
			sessions.GET("/:id/events", sessionHandler.SessionEvents)
			sessions.GET("/:id/media", sessionHandler.ServeMedia)
			sessions.GET("/:id/stream/*path", sessionHandler.ServeStream)
			sessions.HEAD("/:id/stream/*path", sessionHandler.ServeStream)
		}

		if s.Transfers != nil {
			transferHandler := handlers.NewTransferHandler(s.Transfers, s.History, s.Settings, s.ProducersFor, s.MediaExtension, s.Logger)
			transfers := v1.Group("/transfers")
			{
				transfers.POST("", transferHandler.StartTransfer)
				transfers.GET("", transferHandler.ListTransfers)
				transfers.GET("/stats", transferHandler.GetStats)
				transfers.GET("/:id", transferHandler.GetTransfer)
				transfers.POST("/:id/cancel", transferHandler.CancelTransfer)
			}
		}

		if s.LogsDir != "" {
			logHandler := handlers.NewLogHandler(s.LogsDir)
			logWebSocket := handlers.NewLogWebSocketHandler(s.LogsDir, s.Logger)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
				logs.GET("/:category/export", logHandler.ExportLogs)
				logs.GET("/:category/tail", logWebSocket.HandleWebSocket)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	return router
}
