package config

import (
	"os"
	"syscall"

	"github.com/emberwatch-io/emberwatch/internal/models"
)

// LoadDaemonInfo loads the daemon record from <root>/daemon.yaml.
// Returns nil if the file doesn't exist.
func LoadDaemonInfo(root string) (*models.DaemonInfo, error) {
	path := DaemonFile(root)
	if !FileExists(path) {
		return nil, nil
	}

	var info models.DaemonInfo
	if err := LoadYAML(path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SaveDaemonInfo saves the daemon record to <root>/daemon.yaml.
func SaveDaemonInfo(root string, info *models.DaemonInfo) error {
	return SaveYAML(DaemonFile(root), info)
}

// RemoveDaemonInfo removes the daemon.yaml file.
func RemoveDaemonInfo(root string) error {
	path := DaemonFile(root)
	if !FileExists(path) {
		return nil
	}
	return os.Remove(path)
}

// IsDaemonRunning checks if the daemon process is still running.
// Returns true if daemon.yaml exists and the PID is alive.
func IsDaemonRunning(root string) (bool, *models.DaemonInfo, error) {
	info, err := LoadDaemonInfo(root)
	if err != nil {
		return false, nil, err
	}
	if info == nil {
		return false, nil, nil
	}

	if !ProcessExists(info.PID) {
		// Process doesn't exist, clean up stale file
		_ = RemoveDaemonInfo(root)
		return false, info, nil
	}

	return true, info, nil
}

// ProcessExists checks process existence with a non-destructive signal 0.
// Absence is proof of death; presence is inconclusive (the pid may have
// been reused by an unrelated process).
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		// On Unix, FindProcess always succeeds
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
