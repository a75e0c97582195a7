// Package config handles configuration loading, saving, and path management.
package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// GlobalDirName is the name of the global Emberwatch directory.
	GlobalDirName = ".emberwatch"

	// SessionsDirName is the name of the sessions directory under the root.
	SessionsDirName = "sessions"

	// ActiveDirName holds current session records, one JSON file per session.
	ActiveDirName = "active"

	// SessionCheckpointsDirName holds registry-owned session checkpoints.
	SessionCheckpointsDirName = "checkpoints"

	// RecoveryCheckpointsDirName holds coordinator-owned operation checkpoints.
	RecoveryCheckpointsDirName = "recovery-checkpoints"
)

// File names under the root.
const (
	DaemonFileName   = "daemon.yaml"
	DaemonLockName   = "daemon.lock"
	SettingsFileName = "settings.yaml"
)

// DefaultRoot returns the default data root (~/.emberwatch).
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalDirName), nil
}

// SettingsFile returns the path to the settings.yaml file under a root.
func SettingsFile(root string) string {
	return filepath.Join(root, SettingsFileName)
}

// DaemonFile returns the path to the daemon.yaml file under a root.
func DaemonFile(root string) string {
	return filepath.Join(root, DaemonFileName)
}

// DaemonLockFile returns the path to the daemon flock file under a root.
func DaemonLockFile(root string) string {
	return filepath.Join(root, DaemonLockName)
}

// SessionsDir returns the sessions directory under a root.
func SessionsDir(root string) string {
	return filepath.Join(root, SessionsDirName)
}

// ActiveSessionsDir returns the directory of current session records.
func ActiveSessionsDir(root string) string {
	return filepath.Join(SessionsDir(root), ActiveDirName)
}

// SessionFile returns the record path for a session.
func SessionFile(root, sessionID string) string {
	return filepath.Join(ActiveSessionsDir(root), sessionID+".json")
}

// SessionCheckpointsDir returns the registry checkpoint directory.
func SessionCheckpointsDir(root string) string {
	return filepath.Join(SessionsDir(root), SessionCheckpointsDirName)
}

// SessionCheckpointFile returns a session's checkpoint path.
func SessionCheckpointFile(root, sessionID string) string {
	return filepath.Join(SessionCheckpointsDir(root), sessionID+".json")
}

// DailyLogFile returns the shared daily log path for the given day.
// All sessions active that day append JSONL lines to the same file.
func DailyLogFile(root string, day time.Time) string {
	return filepath.Join(SessionsDir(root), day.UTC().Format("2006-01-02")+".jsonl")
}

// RecoveryCheckpointsDir returns the coordinator checkpoint directory.
func RecoveryCheckpointsDir(root string) string {
	return filepath.Join(root, RecoveryCheckpointsDirName)
}

// RecoveryCheckpointFile returns an operation checkpoint path.
func RecoveryCheckpointFile(root, checkpointID string) string {
	return filepath.Join(RecoveryCheckpointsDir(root), checkpointID+".json")
}

// EnsureRoot creates the root directory tree if it doesn't exist.
func EnsureRoot(root string) error {
	for _, dir := range []string{
		root,
		ActiveSessionsDir(root),
		SessionCheckpointsDir(root),
		RecoveryCheckpointsDir(root),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// RootExists checks if a data root directory exists.
func RootExists(root string) bool {
	_, err := os.Stat(root)
	return err == nil
}
