// Package watcher handles file system watching for the daemon.
package watcher

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/emberwatch-io/emberwatch/internal/config"
)

// EventType represents the type of file system event.
type EventType int

// Event types for file system changes.
const (
	EventSessionChanged EventType = iota // active session record written
	EventSessionRemoved                  // active session record deleted
	EventSettingsChanged
)

// Event represents a file system change event.
type Event struct {
	Type      EventType
	SessionID string
	Path      string
}

// Watcher watches the data root for session record and settings changes.
// Writes from other processes (a session completing from the CLI, an
// operator editing settings.yaml) surface as typed events the daemon can
// react to without polling.
type Watcher struct {
	root       string
	fsWatcher  *fsnotify.Watcher
	eventsChan chan Event
	done       chan struct{}
	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
	logger     *log.Logger
}

// New creates a watcher for the given data root.
func New(root string, logger *log.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Watcher{
		root:       root,
		fsWatcher:  fsWatcher,
		eventsChan: make(chan Event, 100),
		done:       make(chan struct{}),
		debounce:   make(map[string]*time.Timer),
		logger:     logger,
	}, nil
}

// Events returns the channel for receiving events.
func (w *Watcher) Events() <-chan Event {
	return w.eventsChan
}

// Start adds the watches and begins event processing.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.root); err != nil {
		w.logger.Printf("[watcher] failed to watch root: %v", err)
	}
	if err := w.fsWatcher.Add(config.ActiveSessionsDir(w.root)); err != nil {
		return err
	}

	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("[watcher] error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Remove is dispatched immediately: the path is gone, nothing to
	// coalesce.
	if event.Op&fsnotify.Remove != 0 {
		if id := w.sessionIDFor(event.Name); id != "" {
			w.eventsChan <- Event{Type: EventSessionRemoved, SessionID: id, Path: event.Name}
		}
		return
	}

	// Accept write, create, and rename events. Rename is critical: atomic
	// writes (write tmp, rename to target) produce Rename events on the
	// target file.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.debounceEvent(event.Name, func() {
		w.processFileChange(event.Name)
	})
}

// debounceEvent debounces events for the same path.
func (w *Watcher) debounceEvent(path string, fn func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(100*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()
		fn()
	})
}

// processFileChange handles a debounced file change.
func (w *Watcher) processFileChange(path string) {
	if filepath.Dir(path) == w.root && filepath.Base(path) == config.SettingsFileName {
		w.eventsChan <- Event{Type: EventSettingsChanged, Path: path}
		return
	}
	if id := w.sessionIDFor(path); id != "" {
		w.eventsChan <- Event{Type: EventSessionChanged, SessionID: id, Path: path}
	}
}

// sessionIDFor returns the session id encoded in an active-record path, or
// "" when the path is not a session record. Temp files from in-progress
// atomic writes are ignored.
func (w *Watcher) sessionIDFor(path string) string {
	if filepath.Dir(path) != config.ActiveSessionsDir(w.root) {
		return ""
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return ""
	}
	return strings.TrimSuffix(name, ".json")
}
