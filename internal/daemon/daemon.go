// Package daemon wires the session registry, log streams, and recovery
// coordinator into the long-running emberwatchd process.
package daemon

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/daemon/watcher"
	"github.com/emberwatch-io/emberwatch/internal/logstream"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/recovery"
	"github.com/emberwatch-io/emberwatch/internal/session"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the
// lock for the same data root.
var ErrAlreadyRunning = errors.New("daemon already running")

// Daemon supervises agent sessions under one data root.
type Daemon struct {
	root     string
	settings *models.Settings
	logger   *log.Logger

	store       *store.Store
	registry    *session.Registry
	streams     *logstream.Manager
	coordinator *recovery.Coordinator
	watcher     *watcher.Watcher
	lock        *flock.Flock

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a daemon rooted at the data directory. Settings are read
// from <root>/settings.yaml, with defaults for anything unset.
func New(root string, logger *log.Logger) (*Daemon, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := config.EnsureRoot(root); err != nil {
		return nil, fmt.Errorf("preparing data root: %w", err)
	}
	settings, err := config.LoadSettings(root)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	st := store.New(store.WithLogger(logger))
	probe := session.ProbeFor(settings.Sessions.LivenessStrategy, root, settings.Sessions.GracePeriod)
	reg := session.NewRegistry(root, st, settings.Sessions,
		session.WithProbe(probe),
		session.WithLogger(logger))
	streams := logstream.NewManager(root, st, reg, settings.Logging, logger)
	coord := recovery.NewCoordinator(root, st, settings.Recovery, recovery.WithLogger(logger))
	w, err := watcher.New(root, logger)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &Daemon{
		root:        root,
		settings:    settings,
		logger:      logger,
		store:       st,
		registry:    reg,
		streams:     streams,
		coordinator: coord,
		watcher:     w,
		done:        make(chan struct{}),
	}, nil
}

// Registry returns the session registry.
func (d *Daemon) Registry() *session.Registry { return d.registry }

// Streams returns the log stream manager.
func (d *Daemon) Streams() *logstream.Manager { return d.streams }

// Coordinator returns the recovery coordinator.
func (d *Daemon) Coordinator() *recovery.Coordinator { return d.coordinator }

// Start acquires the singleton lock, reconciles state left by a previous
// run, and launches the background loops. The flock closes the TOCTOU
// window where concurrent starts all pass the pid-file check before any
// of them writes it.
func (d *Daemon) Start() error {
	d.lock = flock.New(config.DaemonLockFile(d.root))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	// The lock is authoritative; daemon.yaml is advisory state for the CLI.
	running, info, err := config.IsDaemonRunning(d.root)
	if err != nil {
		d.logger.Printf("[emberwatchd] daemon record check failed: %v", err)
	}
	if running && info.PID != os.Getpid() {
		_ = d.lock.Unlock()
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, info.PID)
	}
	if err := config.SaveDaemonInfo(d.root, models.NewDaemonInfo(os.Getpid(), d.root)); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("writing daemon record: %w", err)
	}

	// Sessions left behind by a crashed daemon get adopted or abandoned
	// before anything else runs.
	if err := d.registry.Reconcile(); err != nil {
		d.logger.Printf("[emberwatchd] reconcile failed: %v", err)
	}

	if err := d.watcher.Start(); err != nil {
		d.logger.Printf("[emberwatchd] watcher disabled: %v", err)
	} else {
		d.wg.Add(1)
		go d.consumeWatchEvents()
	}

	d.startLoop(d.settings.Sessions.DetectInterval, d.detectAbandoned)
	d.startLoop(d.settings.Recovery.ReapInterval, d.reapCheckpoints)
	d.startLoop(24*time.Hour, d.pruneLogs)

	d.logger.Printf("[emberwatchd] started (pid %d, root %s)", os.Getpid(), d.root)
	return nil
}

// Stop shuts the daemon down, awaiting in-flight work. Safe to call once.
func (d *Daemon) Stop() {
	close(d.done)
	d.watcher.Stop()
	d.wg.Wait()

	d.streams.Shutdown()
	d.registry.Close()
	d.coordinator.Shutdown()

	if err := config.RemoveDaemonInfo(d.root); err != nil {
		d.logger.Printf("[emberwatchd] failed to remove daemon record: %v", err)
	}
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
	d.logger.Printf("[emberwatchd] stopped")
}

// startLoop runs fn on a fixed interval until shutdown. A non-positive
// interval disables the loop.
func (d *Daemon) startLoop(interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (d *Daemon) detectAbandoned() {
	for _, id := range d.registry.DetectAbandonedSessions() {
		// The registry already marked the record; drop any stream so its
		// buffer reaches the daily log.
		if s, ok := d.streams.Get(id); ok {
			if err := s.Flush(); err != nil {
				d.logger.Printf("[emberwatchd] flushing abandoned session %s: %v", id, err)
			}
		}
	}
}

func (d *Daemon) reapCheckpoints() {
	if _, err := d.coordinator.ReapExpired(); err != nil {
		d.logger.Printf("[emberwatchd] checkpoint reap failed: %v", err)
	}
}

func (d *Daemon) pruneLogs() {
	if _, err := logstream.PruneDailyLogs(d.root, d.settings.Logging.RetentionDays, d.logger); err != nil {
		d.logger.Printf("[emberwatchd] log prune failed: %v", err)
	}
}

// consumeWatchEvents reacts to cross-process writes under the data root.
func (d *Daemon) consumeWatchEvents() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.handleWatchEvent(ev)
		}
	}
}

func (d *Daemon) handleWatchEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventSessionChanged:
		// The in-memory copy still says running for sessions this daemon
		// heartbeats, so the disk record is the one that matters here.
		sess, err := d.registry.LoadSession(ev.SessionID)
		if err != nil {
			return
		}
		if sess.IsTerminal() {
			// Another process finished the session; stop heartbeating it and
			// close out our stream without re-finalizing the record.
			d.registry.Forget(ev.SessionID)
			d.streams.Drop(ev.SessionID)
		}
	case watcher.EventSessionRemoved:
		d.registry.Forget(ev.SessionID)
		d.streams.Drop(ev.SessionID)
	case watcher.EventSettingsChanged:
		d.logger.Printf("[emberwatchd] settings.yaml changed; restart to apply")
	}
}
