package store

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietStore(opts ...Option) *Store {
	base := []Option{
		WithSleep(func(time.Duration) {}),
		WithLogger(log.New(io.Discard, "", 0)),
	}
	return New(append(base, opts...)...)
}

func TestWriteReplacesContent(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "state.json")

	if err := s.Write(path, []byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(path, []byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := quietStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for i := 0; i < 10; i++ {
		if err := s.Write(path, []byte("content")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory has leftover files: %v", names)
	}
}

func TestAbandonedTempFileLeavesDestinationIntact(t *testing.T) {
	s := quietStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := s.Write(path, []byte("committed")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A writer killed before rename leaves only a temp file behind.
	tmp, err := os.CreateTemp(dir, ".state.json.tmp-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := tmp.Write([]byte("half-writ")); err != nil {
		t.Fatalf("temp write: %v", err)
	}
	_ = tmp.Close()

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "committed" {
		t.Errorf("content = %q, want prior content untouched", data)
	}
}

func TestAppendSequentialOrder(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "log.jsonl")

	for i := 0; i < 5; i++ {
		line := fmt.Sprintf("line-%d\n", i)
		if err := s.Append(path, []byte(line)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "line-0\nline-1\nline-2\nline-3\nline-4\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}
}

func TestAppendConcurrentNoInterleaving(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "log.jsonl")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			line := fmt.Sprintf("payload-%02d\n", i)
			if err := s.Append(path, []byte(line)); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}

	// Every payload must appear exactly once and fully intact.
	seen := make(map[string]bool)
	for _, line := range lines {
		if !strings.HasPrefix(line, "payload-") || len(line) != len("payload-00") {
			t.Errorf("interleaved or corrupt line: %q", line)
		}
		if seen[line] {
			t.Errorf("duplicate line: %q", line)
		}
		seen[line] = true
	}
}

// Readers racing a stream of atomic writes must only ever observe a complete
// payload, never a mix of the two.
func TestConcurrentReadersSeeWholePayloads(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "state.json")

	payloadA := bytes.Repeat([]byte("A"), 8192)
	payloadB := bytes.Repeat([]byte("B"), 8192)
	if err := s.Write(path, payloadA); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			payload := payloadA
			if i%2 == 1 {
				payload = payloadB
			}
			if err := s.Write(path, payload); err != nil {
				t.Errorf("Write: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(data, payloadA) && !bytes.Equal(data, payloadB) {
			t.Fatalf("observed partial write of %d bytes", len(data))
		}
	}
	close(stop)
	wg.Wait()
}

func TestWriteRetriesTransientErrors(t *testing.T) {
	var sleeps int
	s := New(
		WithMaxAttempts(3),
		WithSleep(func(time.Duration) { sleeps++ }),
		WithLogger(log.New(io.Discard, "", 0)),
	)

	// The parent "directory" is a regular file, so MkdirAll fails with a
	// non-permission error every attempt.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err := s.Write(filepath.Join(blocker, "child.json"), []byte("data"))
	if err == nil {
		t.Fatal("expected error writing under a regular file")
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2 (attempts-1 backoff waits)", sleeps)
	}
}

func TestUpdateJSONMissingFileStartsFromZero(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "counter.json")

	type counter struct {
		N int `json:"n"`
	}

	for i := 0; i < 3; i++ {
		err := UpdateJSON(s, path, func(c *counter) error {
			c.N++
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateJSON: %v", err)
		}
	}

	var c counter
	if err := s.ReadJSON(path, &c); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if c.N != 3 {
		t.Errorf("N = %d, want 3", c.N)
	}
}

func TestUpdateJSONCorruptFileFallsBack(t *testing.T) {
	s := quietStore()
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	type record struct {
		Name string `json:"name"`
	}
	err := UpdateJSON(s, path, func(r *record) error {
		if r.Name != "" {
			t.Errorf("expected zero value after corrupt read, got %q", r.Name)
		}
		r.Name = "recovered"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJSON: %v", err)
	}

	var r record
	if err := s.ReadJSON(path, &r); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if r.Name != "recovered" {
		t.Errorf("Name = %q, want %q", r.Name, "recovered")
	}
}

func TestDeleteMissingFile(t *testing.T) {
	s := quietStore()
	if err := s.Delete(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("Delete of missing file: %v", err)
	}
}
