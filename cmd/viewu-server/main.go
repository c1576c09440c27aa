package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mjehrhart/viewu-sub000/api"
	"github.com/mjehrhart/viewu-sub000/api/handlers"
	"github.com/mjehrhart/viewu-sub000/internal/app"
	"github.com/mjehrhart/viewu-sub000/internal/infrastructure"
	"github.com/mjehrhart/viewu-sub000/pkg/logger"
)

var configPath = flag.String("config", "", "Path to config file (default: search ./configs, ~/.viewu, /etc/viewu)")

func main() {
	flag.Parse()

	if err := runServer(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runServer(configPath string) error {
	config, settings, err := app.LoadWatchedSettings(configPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	settings.SetLogger(log)

	// Categorized log files (transfer, session, error)
	var multiLog *logger.MultiLogger
	if config.Logging.LogsDir != "" {
		multiLog, err = logger.NewMultiLogger(logger.MultiLoggerConfig{
			Level:   config.Logging.Level,
			LogsDir: config.Logging.LogsDir,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize log files: %w", err)
		}
		defer multiLog.Close()
	}

	log.Info("Starting viewu server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("auth_mode", string(config.Auth.Mode)))

	if err := os.MkdirAll(config.Transfer.DocumentsDir, 0755); err != nil {
		return fmt.Errorf("failed to create documents directory: %w", err)
	}

	// Initialize repository
	repo, err := infrastructure.NewSQLiteTransferRepository(config.Transfer.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	if n, err := repo.ResetInterrupted(); err != nil {
		log.Warn("Failed to reset interrupted transfers", zap.Error(err))
	} else if n > 0 {
		log.Info("Marked interrupted transfers as failed", zap.Int64("count", n))
	}

	client, err := infrastructure.NewHTTPClient(config.Transport, infrastructure.NewTrustPolicy(config.Transport), log)
	if err != nil {
		return fmt.Errorf("failed to build http client: %w", err)
	}

	notifier := infrastructure.NewNotificationService(&config.Notification, log)

	transfers, err := app.NewTransferManager(client, config.Transfer.DocumentsDir,
		multiLog.Tee(log, logger.CategoryTransfer),
		app.WithTransferRepository(repo),
		app.WithTransferNotifier(notifier))
	if err != nil {
		return fmt.Errorf("failed to initialize transfer manager: %w", err)
	}
	defer transfers.Close()

	sessions := app.NewSessionManager(app.SessionManagerConfig{
		Settings:    settings,
		Client:      client,
		Validator:   infrastructure.NewMediaValidator(log),
		Players:     infrastructure.RelayPlayerFactory{ProbeTimeout: config.Transport.Timeout, Logger: log},
		Playback:    config.Playback,
		Logger:      log,
		MultiLogger: multiLog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	router := api.SetupRouter(api.Services{
		Sessions:       sessions,
		Transfers:      transfers,
		History:        repo,
		Settings:       settings,
		MediaExtension: config.Playback.MediaExtension,
		LogsDir:        config.Logging.LogsDir,
		Logger:         log,
		MultiLogger:    multiLog,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Sessions go first so their temp directories are removed even if the
	// HTTP shutdown times out
	if err := sessions.Stop(); err != nil {
		log.Error("Error stopping session manager", zap.Error(err))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
