package daemon

import (
	"errors"
	"io"
	"log"
	"os"
	"testing"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/daemon/watcher"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/session"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

func TestSingletonLock(t *testing.T) {
	root := t.TempDir()
	quiet := log.New(io.Discard, "", 0)

	first, err := New(root, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	running, info, err := config.IsDaemonRunning(root)
	if err != nil {
		t.Fatalf("IsDaemonRunning: %v", err)
	}
	if !running || info.PID != os.Getpid() {
		t.Fatalf("daemon record = %+v running=%v, want this pid", info, running)
	}

	second, err := New(root, quiet)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	if err := second.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopRemovesDaemonRecord(t *testing.T) {
	root := t.TempDir()
	d, err := New(root, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()

	info, err := config.LoadDaemonInfo(root)
	if err != nil {
		t.Fatalf("LoadDaemonInfo: %v", err)
	}
	if info != nil {
		t.Errorf("daemon record survived Stop: %+v", info)
	}

	// The root can be reused by a fresh daemon.
	again, err := New(root, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New again: %v", err)
	}
	if err := again.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	again.Stop()
}

func TestWatchEventDropsExternallyFinishedSession(t *testing.T) {
	root := t.TempDir()
	quiet := log.New(io.Discard, "", 0)

	d, err := New(root, quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Stop()

	sess, err := d.Registry().CreateSession("claude-code", models.Correlation{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	d.Streams().Open(sess.ID)

	// A CLI process in another pid completes the session on disk; this
	// daemon's in-memory copy still says running.
	sibling := session.NewRegistry(root, store.New(), models.SessionsConfig{},
		session.WithLogger(quiet))
	defer sibling.Close()
	if err := sibling.CompleteSession(sess.ID, 0); err != nil {
		t.Fatalf("sibling CompleteSession: %v", err)
	}

	d.handleWatchEvent(watcher.Event{Type: watcher.EventSessionChanged, SessionID: sess.ID})

	if _, ok := d.Streams().Get(sess.ID); ok {
		t.Error("stream survived external completion")
	}
	if ids := d.Registry().Running(); len(ids) != 0 {
		t.Errorf("registry still heartbeating %v", ids)
	}
	got, err := d.Registry().LoadSession(sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
