package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/session"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// EnsureDaemon makes sure the daemon is running, starting it if necessary.
func EnsureDaemon(root string) error {
	running, info, err := config.IsDaemonRunning(root)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if running {
		return nil
	}

	// Clean up stale daemon info if it exists
	if info != nil {
		_ = config.RemoveDaemonInfo(root)
	}

	return startDaemon(root)
}

// startDaemon starts the daemon process in the background.
func startDaemon(root string) error {
	daemonPath, err := findDaemonBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(daemonPath, "--root", root)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait for daemon to be ready (max 5 seconds)
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		running, _, err := config.IsDaemonRunning(root)
		if err == nil && running {
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

// findDaemonBinary locates the emberwatchd binary.
func findDaemonBinary() (string, error) {
	// Try PATH first
	path, err := exec.LookPath("emberwatchd")
	if err == nil {
		return path, nil
	}

	// Try relative to current executable
	execPath, err := os.Executable()
	if err == nil {
		daemonPath := filepath.Join(filepath.Dir(execPath), "emberwatchd")
		if _, err := os.Stat(daemonPath); err == nil {
			return daemonPath, nil
		}
	}

	// Try build directory
	if _, err := os.Stat("./build/emberwatchd"); err == nil {
		return "./build/emberwatchd", nil
	}

	return "", fmt.Errorf("emberwatchd not found. Install or build it first")
}

// openRegistry builds a read-oriented registry over the data root. Settings
// fall back to defaults when settings.yaml is missing or unreadable.
func openRegistry(root string) *session.Registry {
	settings, err := config.LoadSettings(root)
	if err != nil {
		settings = models.NewSettings()
	}
	cfg := settings.Sessions
	cfg.HeartbeatInterval = 0 // the CLI never owns heartbeats
	return session.NewRegistry(root, store.New(), cfg)
}

// shortID abbreviates a session id for table output.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
