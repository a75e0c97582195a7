package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle status of an agent session.
type SessionStatus string

// Session statuses.
const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Correlation ties a session to the work it was started for.
type Correlation struct {
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	SubtaskID string `json:"subtask_id,omitempty"`
}

// Session represents one agent execution tracked by the registry.
// This corresponds to sessions/active/<id>.json files.
type Session struct {
	Version       int           `json:"version"`
	ID            string        `json:"id"`
	AgentName     string        `json:"agent_name"`
	Status        SessionStatus `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	PID           int           `json:"pid,omitempty"`
	Correlation   Correlation   `json:"correlation"`
}

// NewSession creates a running session owned by the given pid.
func NewSession(id, agentName string, pid int, corr Correlation) *Session {
	now := time.Now().UTC()
	return &Session{
		Version:       1,
		ID:            id,
		AgentName:     agentName,
		Status:        SessionRunning,
		StartTime:     now,
		LastHeartbeat: now,
		PID:           pid,
		Correlation:   corr,
	}
}

// IsTerminal returns true once the session has left the running state.
func (s *Session) IsTerminal() bool {
	return s.Status != SessionRunning
}

// Heartbeat refreshes the last-heartbeat timestamp.
func (s *Session) Heartbeat(now time.Time) {
	s.LastHeartbeat = now.UTC()
}

// Complete transitions a running session to completed or failed based on
// the exit code. Transitioning twice is an error: terminal fields are set
// exactly once.
func (s *Session) Complete(exitCode int, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("session %s already %s", s.ID, s.Status)
	}
	end := now.UTC()
	s.EndTime = &end
	s.ExitCode = &exitCode
	if exitCode == 0 {
		s.Status = SessionCompleted
	} else {
		s.Status = SessionFailed
	}
	return nil
}

// Abandon transitions a running session to abandoned.
func (s *Session) Abandon(now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("session %s already %s", s.ID, s.Status)
	}
	end := now.UTC()
	s.EndTime = &end
	s.Status = SessionAbandoned
	return nil
}

// Staleness returns how long ago the last heartbeat was seen.
func (s *Session) Staleness(now time.Time) time.Duration {
	return now.Sub(s.LastHeartbeat)
}
