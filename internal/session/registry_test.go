package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// fakeProbe reports a fixed liveness answer.
type fakeProbe struct {
	alive bool
}

func (p *fakeProbe) Alive(*models.Session) bool { return p.alive }
func (p *fakeProbe) Beat(*models.Session) error { return nil }
func (p *fakeProbe) Clear(*models.Session)      {}

func testRegistry(t *testing.T, probe LivenessProbe) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	if err := config.EnsureRoot(root); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}

	cfg := models.SessionsConfig{
		GracePeriod:       2 * time.Minute,
		HeartbeatInterval: 0, // tests drive heartbeats directly
	}
	opts := []RegistryOption{WithLogger(log.New(io.Discard, "", 0))}
	if probe != nil {
		opts = append(opts, WithProbe(probe))
	}
	r := NewRegistry(root, store.New(), cfg, opts...)
	t.Cleanup(r.Close)
	return r, root
}

func TestCreateAndCompleteSession(t *testing.T) {
	r, _ := testRegistry(t, nil)

	sess, err := r.CreateSession("claude-code", models.Correlation{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != models.SessionRunning {
		t.Errorf("status = %s, want running", sess.Status)
	}

	if err := r.CompleteSession(sess.ID, 0); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, err := r.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", got.ExitCode)
	}
	if got.EndTime == nil {
		t.Error("end time not set")
	}

	// Terminal transitions happen exactly once.
	if err := r.CompleteSession(sess.ID, 1); err == nil {
		t.Error("second CompleteSession should fail")
	}
}

func TestNonZeroExitMeansFailed(t *testing.T) {
	r, _ := testRegistry(t, nil)

	sess, err := r.CreateSession("claude-code", models.Correlation{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := r.CompleteSession(sess.ID, 1); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, err := r.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.SessionFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestUpdateHeartbeatUnknownSession(t *testing.T) {
	r, _ := testRegistry(t, nil)

	err := r.UpdateHeartbeat("nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestCrossProcessCompletion(t *testing.T) {
	r, root := testRegistry(t, nil)

	sess, err := r.CreateSession("claude-code", models.Correlation{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	r.Close()

	// A second registry on the same root, as after a restart.
	cfg := models.SessionsConfig{GracePeriod: 2 * time.Minute}
	other := NewRegistry(root, store.New(), cfg, WithLogger(log.New(io.Discard, "", 0)))
	defer other.Close()

	if err := other.CompleteSession(sess.ID, 0); err != nil {
		t.Fatalf("CompleteSession from sibling registry: %v", err)
	}
	got, err := other.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestDetectAbandonedSessions(t *testing.T) {
	grace := 2 * time.Minute

	tests := []struct {
		name      string
		staleness time.Duration
		alive     bool
		abandoned bool
	}{
		{"fresh and alive", 0, true, false},
		{"stale past grace, dead pid", grace + time.Second, false, true},
		{"stale past grace, alive pid", grace + time.Second, true, false},
		{"stale past twice grace, alive pid", 2*grace + time.Second, true, true},
		{"within grace, dead pid", grace - time.Second, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &fakeProbe{alive: tt.alive}
			r, _ := testRegistry(t, probe)

			sess, err := r.CreateSession("claude-code", models.Correlation{})
			if err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			now := time.Now()
			r.mu.Lock()
			r.sessions[sess.ID].session.LastHeartbeat = now.Add(-tt.staleness)
			r.mu.Unlock()

			oldNow := timeNow
			timeNow = func() time.Time { return now }
			defer func() { timeNow = oldNow }()

			abandoned := r.DetectAbandonedSessions()

			got, err := r.Get(sess.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if tt.abandoned {
				if len(abandoned) != 1 || abandoned[0] != sess.ID {
					t.Errorf("abandoned = %v, want [%s]", abandoned, sess.ID)
				}
				if got.Status != models.SessionAbandoned {
					t.Errorf("status = %s, want abandoned", got.Status)
				}
			} else {
				if len(abandoned) != 0 {
					t.Errorf("abandoned = %v, want none", abandoned)
				}
				if got.Status != models.SessionRunning {
					t.Errorf("status = %s, want running", got.Status)
				}
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	probe := &fakeProbe{alive: false}
	r, root := testRegistry(t, probe)
	st := store.New()

	now := time.Now()
	stale := models.NewSession("stale", "claude-code", 999999, models.Correlation{})
	stale.LastHeartbeat = now.Add(-time.Hour)
	fresh := models.NewSession("fresh", "claude-code", 999999, models.Correlation{})
	fresh.LastHeartbeat = now.Add(-time.Second)
	done := models.NewSession("done", "claude-code", 999999, models.Correlation{})
	if err := done.Complete(0, now); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	for _, sess := range []*models.Session{stale, fresh, done} {
		if err := st.WriteJSON(config.SessionFile(root, sess.ID), sess); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}

	oldNow := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = oldNow }()

	if err := r.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := r.Get("stale")
	if err != nil {
		t.Fatalf("Get stale: %v", err)
	}
	if got.Status != models.SessionAbandoned {
		t.Errorf("stale status = %s, want abandoned", got.Status)
	}

	running := r.Running()
	if len(running) != 1 || running[0] != "fresh" {
		t.Errorf("running = %v, want [fresh]", running)
	}

	got, err = r.Get("done")
	if err != nil {
		t.Fatalf("Get done: %v", err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("done status = %s, want completed", got.Status)
	}
}

func TestSessionCheckpointRoundTrip(t *testing.T) {
	r, _ := testRegistry(t, nil)

	if err := r.SaveCheckpoint("s1", 42, json.RawMessage(`{"line":"last"}`)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cp, err := r.LoadCheckpoint("s1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint missing")
	}
	if cp.Position != 42 || cp.SessionID != "s1" {
		t.Errorf("checkpoint = %+v", cp)
	}

	if err := r.DeleteCheckpoint("s1"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	cp, err = r.LoadCheckpoint("s1")
	if err != nil {
		t.Fatalf("LoadCheckpoint after delete: %v", err)
	}
	if cp != nil {
		t.Errorf("checkpoint still present after delete: %+v", cp)
	}
}

func TestHeartbeatCannotResurrectTerminalSession(t *testing.T) {
	r, root := testRegistry(t, nil)

	sess, err := r.CreateSession("claude-code", models.Correlation{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// A sibling process finishes the session through the on-disk record.
	sibling := NewRegistry(root, store.New(), models.SessionsConfig{GracePeriod: 2 * time.Minute},
		WithLogger(log.New(io.Discard, "", 0)))
	defer sibling.Close()
	if err := sibling.CompleteSession(sess.ID, 1); err != nil {
		t.Fatalf("sibling CompleteSession: %v", err)
	}

	if err := r.UpdateHeartbeat(sess.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("UpdateHeartbeat = %v, want ErrSessionTerminal", err)
	}

	got, err := r.LoadSession(sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Status != models.SessionFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if ids := r.Running(); len(ids) != 0 {
		t.Errorf("still tracking %v after terminal heartbeat", ids)
	}

	// The session is gone from memory, so later heartbeats cannot touch it.
	if err := r.UpdateHeartbeat(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second UpdateHeartbeat = %v, want ErrSessionNotFound", err)
	}
}
