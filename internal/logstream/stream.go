// Package logstream buffers session log entries in memory and flushes them
// to the shared daily log file. Critical entries (start, end, error,
// command, info, update) flush immediately for real-time visibility;
// stdout/stderr batch until a size, count, or time threshold. Buffers are
// hard-capped: overflow degrades (truncate, drop with warning) instead of
// growing without bound or failing the caller.
package logstream

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// timeNow is a function that returns the current time. It can be overridden in tests.
var timeNow = time.Now

// truncationMarker replaces the tail of oversized entry data.
const truncationMarker = "...[truncated]"

// batchEntryLimit forces a flush once this many entries accumulate,
// independent of byte size.
const batchEntryLimit = 100

// Finalizer is the slice of the session registry a stream needs when it
// closes: terminal status persistence and checkpoint cleanup.
type Finalizer interface {
	CompleteSession(id string, exitCode int) error
	DeleteCheckpoint(id string) error
}

// flight tracks one in-progress flush so concurrent callers can await it.
type flight struct {
	done chan struct{}
	err  error
}

// Stream is the buffered log writer for one session. All methods are safe
// for concurrent use.
type Stream struct {
	sessionID string
	root      string
	store     *store.Store
	finalizer Finalizer
	cfg       models.LoggingConfig
	logger    *log.Logger

	mu          sync.Mutex
	buf         []*models.LogEntry
	bufBytes    int
	totalLogged int
	dropWarned  bool
	closed      bool
	flushing    *flight
	detector    commandDetector

	stopTimer chan struct{}
	timerWG   sync.WaitGroup
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the stream's warning logger.
func WithStreamLogger(l *log.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// New creates a stream for the session and starts its periodic flusher.
func New(sessionID, root string, st *store.Store, fin Finalizer, cfg models.LoggingConfig, opts ...StreamOption) *Stream {
	s := &Stream{
		sessionID: sessionID,
		root:      root,
		store:     st,
		finalizer: fin,
		cfg:       cfg,
		logger:    log.Default(),
		stopTimer: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.FlushInterval > 0 {
		s.timerWG.Add(1)
		go func() {
			defer s.timerWG.Done()
			ticker := time.NewTicker(cfg.FlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopTimer:
					return
				case <-ticker.C:
					if err := s.Flush(); err != nil {
						s.logger.Printf("[stream:%s] periodic flush failed: %v", s.sessionID, err)
					}
				}
			}
		}()
	}
	return s
}

// Log appends an entry to the buffer. Critical kinds flush immediately.
// Once the stream is closed or the per-session entry ceiling is hit,
// further calls are no-ops.
func (s *Stream) Log(kind models.LogKind, data string, metadata map[string]string) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.totalLogged >= s.cfg.MaxTotalEntries {
		if !s.dropWarned {
			s.dropWarned = true
			s.logger.Printf("[stream:%s] entry ceiling (%d) reached, dropping further entries", s.sessionID, s.cfg.MaxTotalEntries)
		}
		s.mu.Unlock()
		return
	}

	if s.cfg.MaxEntryBytes > 0 && len(data) > s.cfg.MaxEntryBytes {
		cut := s.cfg.MaxEntryBytes
		// Back off to a rune boundary so the kept prefix stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut] + truncationMarker
	}

	s.appendLocked(&models.LogEntry{
		SessionID: s.sessionID,
		Timestamp: timeNow().UTC(),
		Kind:      kind,
		Data:      data,
		Metadata:  metadata,
	})

	// Best-effort: surface tool invocations found in process output as
	// synthetic command entries.
	if kind == models.LogStdout || kind == models.LogStderr {
		for _, cmd := range s.detector.Feed(data + "\n") {
			if s.totalLogged >= s.cfg.MaxTotalEntries {
				break
			}
			s.appendLocked(&models.LogEntry{
				SessionID: s.sessionID,
				Timestamp: timeNow().UTC(),
				Kind:      models.LogCommand,
				Data:      cmd,
				Metadata:  map[string]string{"detected": "true"},
			})
			kind = models.LogCommand // command entries flush immediately
		}
	}

	needFlush := kind.IsCritical() ||
		len(s.buf) >= batchEntryLimit ||
		(s.cfg.MaxBufferBytes > 0 && s.bufBytes >= s.cfg.MaxBufferBytes)
	s.mu.Unlock()

	if needFlush {
		if err := s.Flush(); err != nil {
			s.logger.Printf("[stream:%s] flush failed: %v", s.sessionID, err)
		}
	}
}

// appendLocked adds an entry to the buffer. Caller holds s.mu.
func (s *Stream) appendLocked(e *models.LogEntry) {
	s.buf = append(s.buf, e)
	s.bufBytes += e.Size()
	s.totalLogged++
}

// Flush writes buffered entries to the daily log file. It is single-flight:
// when a flush is already in progress, callers await that flush's outcome
// instead of starting another write to the same file.
func (s *Stream) Flush() error {
	s.mu.Lock()
	if f := s.flushing; f != nil {
		s.mu.Unlock()
		<-f.done
		return f.err
	}
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}

	f := &flight{done: make(chan struct{})}
	s.flushing = f
	entries := s.buf
	s.buf = nil
	s.bufBytes = 0
	s.mu.Unlock()

	err := s.writeEntries(entries)

	s.mu.Lock()
	if err != nil {
		s.restoreLocked(entries)
	}
	s.flushing = nil
	s.mu.Unlock()

	f.err = err
	close(f.done)
	return err
}

// restoreLocked returns failed-flush entries to the front of the buffer so
// a transient I/O error loses nothing. If the buffer is already at
// capacity, the entries are dropped: the bounded-memory guarantee wins over
// completeness. Caller holds s.mu.
func (s *Stream) restoreLocked(entries []*models.LogEntry) {
	size := 0
	for _, e := range entries {
		size += e.Size()
	}
	if s.cfg.MaxBufferBytes > 0 && s.bufBytes+size > s.cfg.MaxBufferBytes {
		s.logger.Printf("[stream:%s] dropping %d entries after failed flush (buffer at capacity)", s.sessionID, len(entries))
		return
	}
	s.buf = append(entries, s.buf...)
	s.bufBytes += size
}

// writeEntries appends one JSONL line per entry to the shared daily file.
func (s *Stream) writeEntries(entries []*models.LogEntry) error {
	var payload []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling log entry: %w", err)
		}
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	return s.store.Append(config.DailyLogFile(s.root, timeNow()), payload)
}

// Finalize closes the stream: one last flush, terminal session state,
// checkpoint cleanup. Subsequent Log calls are no-ops. Safe to call once;
// later calls return nil without effect.
func (s *Stream) Finalize(exitCode int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopTimer)
	s.timerWG.Wait()

	if err := s.Flush(); err != nil {
		s.logger.Printf("[stream:%s] final flush failed: %v", s.sessionID, err)
	}

	if err := s.finalizer.CompleteSession(s.sessionID, exitCode); err != nil {
		return fmt.Errorf("completing session %s: %w", s.sessionID, err)
	}
	if err := s.finalizer.DeleteCheckpoint(s.sessionID); err != nil {
		return fmt.Errorf("deleting checkpoint for %s: %w", s.sessionID, err)
	}
	return nil
}

// Closed reports whether the stream has been finalized.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// BufferedEntries returns the number of entries waiting to be flushed.
func (s *Stream) BufferedEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
