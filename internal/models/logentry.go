package models

import "time"

// LogKind classifies a session log entry.
type LogKind string

// Log entry kinds. Critical kinds flush the stream buffer immediately;
// stdout/stderr batch until a size, count, or time threshold is hit.
const (
	LogStart   LogKind = "start"
	LogEnd     LogKind = "end"
	LogStdout  LogKind = "stdout"
	LogStderr  LogKind = "stderr"
	LogError   LogKind = "error"
	LogCommand LogKind = "command"
	LogInfo    LogKind = "info"
	LogUpdate  LogKind = "update"
)

// IsCritical reports whether entries of this kind must be visible on disk
// as soon as they are logged.
func (k LogKind) IsCritical() bool {
	switch k {
	case LogStart, LogEnd, LogError, LogCommand, LogInfo, LogUpdate:
		return true
	default:
		return false
	}
}

// LogEntry is one line in a daily session log file. Entries are immutable
// once appended; within a session they appear in call order, but entries
// from different sessions interleave in flush order, so readers needing
// exact temporal order must sort by Timestamp.
type LogEntry struct {
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      LogKind           `json:"kind"`
	Data      string            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Size returns the approximate in-memory byte cost of the entry, used for
// buffer accounting.
func (e *LogEntry) Size() int {
	n := len(e.SessionID) + len(e.Kind) + len(e.Data)
	for k, v := range e.Metadata {
		n += len(k) + len(v)
	}
	return n
}
