package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
)

// LivenessProbe answers whether a session's owning process is still alive.
// Absence of the process is treated as proof of crash; presence is
// inconclusive, since a pid can be reused by an unrelated process. The
// token strategy narrows that window with a secondary signal.
type LivenessProbe interface {
	// Alive reports whether the session's owner appears to be running.
	Alive(s *models.Session) bool

	// Beat is called on every heartbeat so the probe can refresh any
	// secondary liveness signal it maintains.
	Beat(s *models.Session) error

	// Clear removes any probe state once a session reaches a terminal
	// status.
	Clear(s *models.Session)
}

// PIDProbe checks process existence with a non-destructive signal.
type PIDProbe struct{}

// Alive returns true if the recorded pid exists.
func (PIDProbe) Alive(s *models.Session) bool {
	return config.ProcessExists(s.PID)
}

// Beat is a no-op: the pid needs no refreshing.
func (PIDProbe) Beat(*models.Session) error { return nil }

// Clear is a no-op.
func (PIDProbe) Clear(*models.Session) {}

// TokenProbe combines the pid check with a liveness token file rewritten on
// every heartbeat. A reused pid without a matching fresh token is treated
// as dead.
type TokenProbe struct {
	Root   string
	MaxAge time.Duration
}

func (p TokenProbe) tokenPath(s *models.Session) string {
	return config.SessionFile(p.Root, s.ID) + ".alive"
}

// Alive returns true if the pid exists and the token file is fresh and was
// written by the same pid.
func (p TokenProbe) Alive(s *models.Session) bool {
	if !config.ProcessExists(s.PID) {
		return false
	}

	path := p.tokenPath(s)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if p.MaxAge > 0 && timeNow().Sub(info.ModTime()) > p.MaxAge {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	return pid == s.PID
}

// Beat rewrites the token file with the owning pid.
func (p TokenProbe) Beat(s *models.Session) error {
	path := p.tokenPath(s)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", s.PID)), 0o644); err != nil {
		return fmt.Errorf("writing liveness token: %w", err)
	}
	return nil
}

// Clear removes the token file.
func (p TokenProbe) Clear(s *models.Session) {
	_ = os.Remove(p.tokenPath(s))
}

// ProbeFor returns the probe for a configured liveness strategy. Unknown
// strategies fall back to the pid probe.
func ProbeFor(strategy, root string, maxAge time.Duration) LivenessProbe {
	if strategy == "token" {
		return TokenProbe{Root: root, MaxAge: maxAge}
	}
	return PIDProbe{}
}
