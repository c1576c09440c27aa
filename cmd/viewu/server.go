package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	serverBinary       = "viewu-server"
	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// isServerRunning reports whether baseURL answers its health check
func isServerRunning(baseURL string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// serverCandidates lists where viewu-server may be installed, next to the
// CLI binary first
func serverCandidates() []string {
	var paths []string
	if self, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(self), serverBinary))
	}
	if found, err := exec.LookPath(serverBinary); err == nil {
		paths = append(paths, found)
	}
	paths = append(paths, "/usr/local/bin/"+serverBinary, "/usr/bin/"+serverBinary)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, "go", "bin", serverBinary),
			filepath.Join(home, ".local", "bin", serverBinary))
	}
	return paths
}

func findServerBinary() (string, error) {
	for _, p := range serverCandidates() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s binary not found", serverBinary)
}

// launchServer starts viewu-server detached from this process, passing
// the CLI's config file along
func launchServer() error {
	binary, err := findServerBinary()
	if err != nil {
		return err
	}

	var args []string
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	cmd := exec.Command(binary, args...)
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", serverBinary, err)
	}
	// Reap the child if it exits while the CLI is still running
	go cmd.Wait()
	return nil
}

// waitHealthy polls baseURL until it answers or ctx ends
func waitHealthy(ctx context.Context, baseURL string) error {
	ticker := time.NewTicker(serverPollInterval)
	defer ticker.Stop()
	for {
		if isServerRunning(baseURL) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become healthy: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ensureServerRunning starts the server when nothing answers at serverURL
func ensureServerRunning() error {
	if isServerRunning(serverURL) {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Server not running, starting...")
	if err := launchServer(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverStartTimeout)
	defer cancel()
	if err := waitHealthy(ctx, serverURL); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Server started")
	return nil
}
