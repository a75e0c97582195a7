package logstream

import (
	"log"
	"sync"

	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// Manager owns one stream per session. Construct once at process start and
// share by reference.
type Manager struct {
	root      string
	store     *store.Store
	finalizer Finalizer
	cfg       models.LoggingConfig
	logger    *log.Logger

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewManager creates a stream manager.
func NewManager(root string, st *store.Store, fin Finalizer, cfg models.LoggingConfig, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		root:      root,
		store:     st,
		finalizer: fin,
		cfg:       cfg,
		logger:    logger,
		streams:   make(map[string]*Stream),
	}
}

// Open returns the session's stream, creating it on first use.
func (m *Manager) Open(sessionID string) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[sessionID]; ok {
		return s
	}
	s := New(sessionID, m.root, m.store, m.finalizer, m.cfg, WithStreamLogger(m.logger))
	m.streams[sessionID] = s
	return s
}

// Get returns the session's stream if one is open.
func (m *Manager) Get(sessionID string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[sessionID]
	return s, ok
}

// Finalize closes the session's stream and forgets it.
func (m *Manager) Finalize(sessionID string, exitCode int) error {
	m.mu.Lock()
	s, ok := m.streams[sessionID]
	delete(m.streams, sessionID)
	m.mu.Unlock()

	if !ok {
		return m.finalizer.CompleteSession(sessionID, exitCode)
	}
	return s.Finalize(exitCode)
}

// Drop flushes and closes the session's stream without touching session
// state. Used when another process already finalized the session.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	s, ok := m.streams[sessionID]
	delete(m.streams, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closeStream(s)
}

// Shutdown flushes every open stream without finalizing the sessions.
// In-flight flushes are awaited, not cancelled, so no partial writes.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.streams = make(map[string]*Stream)
	m.mu.Unlock()

	for _, s := range streams {
		m.closeStream(s)
	}
}

// closeStream marks the stream closed, stops its timer, and drains its
// buffer to disk. No-op for already-closed streams.
func (m *Manager) closeStream(s *Stream) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopTimer)
	s.timerWG.Wait()
	if err := s.Flush(); err != nil {
		m.logger.Printf("[streams] closing flush failed for %s: %v", s.sessionID, err)
	}
}
