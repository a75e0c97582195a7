package logstream

import (
	"io"
	"log"
	"testing"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

func testManager(t *testing.T) (*Manager, string, *fakeFinalizer) {
	t.Helper()
	root := t.TempDir()
	if err := config.EnsureRoot(root); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	fin := newFakeFinalizer()
	m := NewManager(root, store.New(), fin, testCfg(), log.New(io.Discard, "", 0))
	return m, root, fin
}

func TestOpenReturnsSameStream(t *testing.T) {
	m, _, _ := testManager(t)

	a := m.Open("s1")
	b := m.Open("s1")
	if a != b {
		t.Error("Open should return the existing stream for a session")
	}
	if _, ok := m.Get("s2"); ok {
		t.Error("Get reported a stream that was never opened")
	}
}

func TestFinalizeWithoutStreamStillCompletesSession(t *testing.T) {
	m, _, fin := testManager(t)

	if err := m.Finalize("orphan", 3); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if code, ok := fin.completed["orphan"]; !ok || code != 3 {
		t.Errorf("completed[orphan] = %d,%v want 3,true", code, ok)
	}
}

func TestFinalizeForgetsStream(t *testing.T) {
	m, root, fin := testManager(t)

	s := m.Open("s1")
	s.Log(models.LogStdout, "tail", nil)
	if err := m.Finalize("s1", 0); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, ok := m.Get("s1"); ok {
		t.Error("finalized stream still registered")
	}
	if code := fin.completed["s1"]; code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if entries := dailyLines(t, root); len(entries) != 1 {
		t.Errorf("persisted %d entries, want 1", len(entries))
	}
}

func TestShutdownFlushesWithoutFinalizing(t *testing.T) {
	m, root, fin := testManager(t)

	m.Open("s1").Log(models.LogStdout, "buffered", nil)
	m.Shutdown()

	if entries := dailyLines(t, root); len(entries) != 1 {
		t.Errorf("persisted %d entries, want 1", len(entries))
	}
	if len(fin.completed) != 0 {
		t.Errorf("shutdown should not complete sessions, got %v", fin.completed)
	}
}
