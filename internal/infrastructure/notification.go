package infrastructure

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

// NotificationService sends desktop notifications about finished transfers
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var name string
	var args []string
	switch n.config.Method {
	case "osascript":
		name = "osascript"
		args = []string{"-e", fmt.Sprintf(`display notification %q with title %q`, message, title)}
	case "notify-send":
		name = "notify-send"
		args = []string{title, message}
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	n.logger.Debug("Running notifier", zap.String("command", commandLine(name, args...)))
	if err := n.run(name, args...); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyTransferFinished reports a transfer's outcome. The message comes
// from the error kind, never from raw transport text.
func (n *NotificationService) NotifyTransferFinished(task domain.TransferTask, path string, err error) {
	if err != nil {
		n.Send("Download Failed", fmt.Sprintf("%s: %s", truncateString(task.DestinationName, 30), domain.UserMessage(err)))
		return
	}
	n.Send("Download Completed", fmt.Sprintf("Saved %s", truncateString(filepath.Base(path), 40)))
}

// truncateString keeps the first maxLen characters of s. It cuts on rune
// boundaries so file names stay valid UTF-8.
func truncateString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// commandLine renders a command for logs, single-quoting arguments the
// shell would otherwise interpret
func commandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, arg := range append([]string{name}, args...) {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\r'\"$`\\!*?[](){}|;<>&~#%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
