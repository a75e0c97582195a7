package models

import (
	"encoding/json"
	"time"
)

// OperationType is the closed set of resumable operation kinds a recovery
// checkpoint can describe. Dispatch is by enum value, never by raw string
// comparison at call sites.
type OperationType string

// Recovery operation types.
const (
	OpSessionStart OperationType = "session_start"
	OpSessionLog   OperationType = "session_log"
	OpLogFlush     OperationType = "log_flush"
	OpStatePersist OperationType = "state_persist"
	OpAgentRequest OperationType = "agent_request"
)

// KnownOperationTypes lists every valid operation type. Used to reject
// checkpoints written by newer versions with kinds this build cannot resume.
var KnownOperationTypes = map[OperationType]bool{
	OpSessionStart: true,
	OpSessionLog:   true,
	OpLogFlush:     true,
	OpStatePersist: true,
	OpAgentRequest: true,
}

// Checkpoint is a persisted snapshot of an in-progress operation, enabling
// resumption or informed recovery after failure. This corresponds to
// recovery-checkpoints/<id>.json files.
type Checkpoint struct {
	Version       int             `json:"version"`
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id,omitempty"`
	OperationType OperationType   `json:"operation_type"`
	State         json.RawMessage `json:"state,omitempty"`
	Dependencies  []string        `json:"dependencies,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Expired reports whether the checkpoint has outlived its TTL. Expired
// checkpoints are non-recoverable and get removed by the reaper.
func (c *Checkpoint) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CanRetry reports whether another retry attempt is permitted.
func (c *Checkpoint) CanRetry() bool {
	return c.RetryCount < c.MaxRetries
}

// SessionCheckpoint records a session's recovery-relevant position (for
// example the last processed log line), independent of session status.
// This corresponds to sessions/checkpoints/<sessionID>.json files.
type SessionCheckpoint struct {
	Version   int             `json:"version"`
	SessionID string          `json:"session_id"`
	Position  int             `json:"position"`
	State     json.RawMessage `json:"state,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
