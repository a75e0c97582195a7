// Package session tracks agent execution sessions: creation, heartbeating,
// completion, abandonment detection, and per-session recovery checkpoints.
// A session transitions running → completed|failed|abandoned exactly once;
// no transition leaves a terminal state.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// timeNow is a function that returns the current time. It can be overridden in tests.
var timeNow = time.Now

// ErrSessionNotFound is returned when a session is unknown to the in-memory
// registry. Callers should treat this as fatal to the local process: it
// indicates a restart without reattachment.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionTerminal is returned when a heartbeat finds the on-disk record
// already completed, failed, or abandoned, typically by a sibling process.
// The registry stops tracking the session locally.
var ErrSessionTerminal = errors.New("session already terminal")

// Registry owns session lifecycle for one process. Construct once at
// process start and pass by reference; there is no package-level instance.
type Registry struct {
	root   string
	store  *store.Store
	cfg    models.SessionsConfig
	probe  LivenessProbe
	newID  func() string
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
	closed   bool
}

// tracked pairs an in-memory session with its heartbeat timer.
type tracked struct {
	session *models.Session
	stop    chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithProbe overrides the liveness probe.
func WithProbe(p LivenessProbe) RegistryOption {
	return func(r *Registry) { r.probe = p }
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry rooted at the given data directory.
func NewRegistry(root string, st *store.Store, cfg models.SessionsConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		root:     root,
		store:    st,
		cfg:      cfg,
		probe:    ProbeFor(cfg.LivenessStrategy, root, cfg.GracePeriod),
		newID:    uuid.NewString,
		logger:   log.Default(),
		sessions: make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession allocates an id, persists the initial record, and starts a
// heartbeat timer owned by this process.
func (r *Registry) CreateSession(agentName string, corr models.Correlation) (*models.Session, error) {
	sess := models.NewSession(r.newID(), agentName, os.Getpid(), corr)

	if err := r.persist(sess); err != nil {
		return nil, fmt.Errorf("persisting session %s: %w", sess.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}
	t := &tracked{session: sess, stop: make(chan struct{})}
	r.sessions[sess.ID] = t
	r.startHeartbeat(t)

	r.logger.Printf("[registry] session %s created (agent=%s pid=%d)", sess.ID, agentName, sess.PID)
	return sess, nil
}

// startHeartbeat launches the per-session heartbeat loop. Caller holds r.mu.
func (r *Registry) startHeartbeat(t *tracked) {
	if r.cfg.HeartbeatInterval <= 0 {
		return
	}
	r.wg.Add(1)
	id := t.session.ID
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				if err := r.UpdateHeartbeat(id); err != nil {
					r.logger.Printf("[registry] heartbeat for %s failed: %v", id, err)
					if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionTerminal) {
						return
					}
				}
			}
		}
	}()
}

// UpdateHeartbeat refreshes the session's last-heartbeat timestamp and
// persists the record. Returns ErrSessionNotFound for sessions this process
// does not own in memory, and ErrSessionTerminal when the on-disk record
// has already left the running state.
func (r *Registry) UpdateHeartbeat(id string) error {
	r.mu.Lock()
	t, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("heartbeat for %s: %w", id, ErrSessionNotFound)
	}
	t.session.Heartbeat(timeNow())
	snapshot := *t.session
	r.mu.Unlock()

	if err := r.probe.Beat(&snapshot); err != nil {
		r.logger.Printf("[registry] liveness beat for %s failed: %v", id, err)
	}

	// Merge into the on-disk record instead of overwriting it. A sibling
	// process may have finished the session; a terminal record must never
	// go back to running.
	err := store.UpdateJSON(r.store, config.SessionFile(r.root, id), func(s *models.Session) error {
		if s.ID == "" {
			*s = snapshot
			return nil
		}
		if s.IsTerminal() {
			return fmt.Errorf("heartbeat for %s: %w", id, ErrSessionTerminal)
		}
		s.LastHeartbeat = snapshot.LastHeartbeat
		return nil
	})
	if errors.Is(err, ErrSessionTerminal) {
		r.Forget(id)
	}
	return err
}

// Forget stops tracking a session without touching its on-disk record. Used
// when another process has already driven the session to a terminal state.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	if t, ok := r.sessions[id]; ok {
		close(t.stop)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

// CompleteSession stops the heartbeat and persists the terminal state.
// Works even if the session is only known on disk, so a sibling process can
// complete a session it did not create.
func (r *Registry) CompleteSession(id string, exitCode int) error {
	return r.finalize(id, func(s *models.Session) error {
		return s.Complete(exitCode, timeNow())
	})
}

// MarkAsAbandoned transitions the session to abandoned through the same
// persistence path as completion.
func (r *Registry) MarkAsAbandoned(id string) error {
	return r.finalize(id, func(s *models.Session) error {
		return s.Abandon(timeNow())
	})
}

// finalize applies a terminal transition in memory when the session is
// tracked, falling back to the on-disk record otherwise.
func (r *Registry) finalize(id string, transition func(*models.Session) error) error {
	r.mu.Lock()
	t, tracked := r.sessions[id]
	var sess *models.Session
	if tracked {
		close(t.stop)
		delete(r.sessions, id)
		sess = t.session
	}
	r.mu.Unlock()

	if sess == nil {
		loaded, err := r.load(id)
		if err != nil {
			return err
		}
		sess = loaded
	}

	if err := transition(sess); err != nil {
		return err
	}
	if err := r.persist(sess); err != nil {
		return fmt.Errorf("persisting terminal state for %s: %w", id, err)
	}
	r.probe.Clear(sess)

	r.logger.Printf("[registry] session %s -> %s", id, sess.Status)
	return nil
}

// DetectAbandonedSessions scans in-memory running sessions and abandons any
// that are stale beyond the grace period AND either have a dead owning
// process or are stale beyond twice the grace period. The double condition
// reclaims truly dead sessions without killing slow-but-alive ones.
func (r *Registry) DetectAbandonedSessions() []string {
	now := timeNow()
	grace := r.cfg.GracePeriod

	r.mu.Lock()
	var candidates []*models.Session
	for _, t := range r.sessions {
		snapshot := *t.session
		candidates = append(candidates, &snapshot)
	}
	r.mu.Unlock()

	var abandoned []string
	for _, sess := range candidates {
		stale := sess.Staleness(now)
		if stale <= grace {
			continue
		}
		if !r.probe.Alive(sess) || stale > 2*grace {
			if err := r.MarkAsAbandoned(sess.ID); err != nil {
				r.logger.Printf("[registry] abandoning %s failed: %v", sess.ID, err)
				continue
			}
			abandoned = append(abandoned, sess.ID)
		}
	}
	return abandoned
}

// Reconcile reloads on-disk running sessions after a process restart.
// Already-stale sessions are immediately abandoned; the rest resume
// heartbeating in this process under the current pid.
func (r *Registry) Reconcile() error {
	sessions, err := r.List()
	if err != nil {
		return err
	}

	now := timeNow()
	grace := r.cfg.GracePeriod
	for _, sess := range sessions {
		if sess.Status != models.SessionRunning {
			continue
		}

		stale := sess.Staleness(now)
		if stale > grace && (!r.probe.Alive(sess) || stale > 2*grace) {
			if err := r.MarkAsAbandoned(sess.ID); err != nil {
				r.logger.Printf("[registry] reconcile: abandoning %s failed: %v", sess.ID, err)
			} else {
				r.logger.Printf("[registry] reconcile: abandoned stale session %s", sess.ID)
			}
			continue
		}

		// Adopt: this process takes over heartbeating.
		sess.PID = os.Getpid()
		sess.Heartbeat(now)
		if err := r.persist(sess); err != nil {
			r.logger.Printf("[registry] reconcile: adopting %s failed: %v", sess.ID, err)
			continue
		}

		r.mu.Lock()
		if _, exists := r.sessions[sess.ID]; !exists && !r.closed {
			t := &tracked{session: sess, stop: make(chan struct{})}
			r.sessions[sess.ID] = t
			r.startHeartbeat(t)
			r.logger.Printf("[registry] reconcile: resumed session %s", sess.ID)
		}
		r.mu.Unlock()
	}
	return nil
}

// Get returns the session by id, preferring the in-memory record.
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.Lock()
	if t, ok := r.sessions[id]; ok {
		snapshot := *t.session
		r.mu.Unlock()
		return &snapshot, nil
	}
	r.mu.Unlock()
	return r.load(id)
}

// LoadSession reads the on-disk record, bypassing any in-memory copy. Use
// when a sibling process may have advanced the session past this process's
// view of it.
func (r *Registry) LoadSession(id string) (*models.Session, error) {
	return r.load(id)
}

// List returns all session records on disk, running and terminal.
func (r *Registry) List() ([]*models.Session, error) {
	dir := config.ActiveSessionsDir(r.root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*models.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var sess models.Session
		if err := r.store.ReadJSON(filepath.Join(dir, e.Name()), &sess); err != nil {
			r.logger.Printf("[registry] skipping unreadable record %s: %v", e.Name(), err)
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

// Running returns the ids of sessions this process is heartbeating.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SaveCheckpoint persists the session's recovery-relevant position,
// independent of session status.
func (r *Registry) SaveCheckpoint(sessionID string, position int, state json.RawMessage) error {
	cp := &models.SessionCheckpoint{
		Version:   1,
		SessionID: sessionID,
		Position:  position,
		State:     state,
		UpdatedAt: timeNow().UTC(),
	}
	return r.store.WriteJSON(config.SessionCheckpointFile(r.root, sessionID), cp)
}

// LoadCheckpoint returns the session's checkpoint, or nil if none exists.
func (r *Registry) LoadCheckpoint(sessionID string) (*models.SessionCheckpoint, error) {
	path := config.SessionCheckpointFile(r.root, sessionID)
	var cp models.SessionCheckpoint
	if err := r.store.ReadJSON(path, &cp); err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// DeleteCheckpoint removes the session's checkpoint.
func (r *Registry) DeleteCheckpoint(sessionID string) error {
	return r.store.Delete(config.SessionCheckpointFile(r.root, sessionID))
}

// Close stops all heartbeat loops and waits for them to finish. In-flight
// persists complete; no session state is force-cancelled mid-write.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, t := range r.sessions {
		close(t.stop)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// persist writes the session record through the atomic store.
func (r *Registry) persist(sess *models.Session) error {
	return r.store.WriteJSON(config.SessionFile(r.root, sess.ID), sess)
}

// load reads a session record from disk.
func (r *Registry) load(id string) (*models.Session, error) {
	path := config.SessionFile(r.root, id)
	var sess models.Session
	if err := r.store.ReadJSON(path, &sess); err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, err
	}
	return &sess, nil
}
