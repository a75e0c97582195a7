// Package models contains shared data structures used across the application.
package models

import "time"

// DaemonInfo represents the running daemon's identity.
// This corresponds to ~/.emberwatch/daemon.yaml.
type DaemonInfo struct {
	Version   int       `yaml:"version"`
	PID       int       `yaml:"pid"`
	Root      string    `yaml:"root"`
	StartedAt time.Time `yaml:"started_at"`
}

// NewDaemonInfo creates a new daemon info with current values.
func NewDaemonInfo(pid int, root string) *DaemonInfo {
	return &DaemonInfo{
		Version:   1,
		PID:       pid,
		Root:      root,
		StartedAt: time.Now().UTC(),
	}
}
