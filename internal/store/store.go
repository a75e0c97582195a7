// Package store provides crash-safe, serialized file operations. Every write
// goes to a temporary file in the destination directory, is synced to stable
// storage, and is renamed over the destination, so readers never observe a
// half-written file. Operations targeting the same canonical path run in
// strict FIFO order through an in-process queue; no OS-level file locks are
// taken.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts bounds retries of a failing operation. Attempt delays
// double from DefaultBaseDelay up to DefaultMaxDelay.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
)

// Store serializes and persists file operations. The zero value is not
// usable; construct with New.
type Store struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(time.Duration)
	logger      *log.Logger

	mu    sync.Mutex
	tails map[string]chan struct{} // canonical path -> completion signal of last queued op
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts overrides the retry ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

// WithBackoff overrides the retry delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Store) {
		s.baseDelay = base
		s.maxDelay = max
	}
}

// WithSleep overrides the sleep function used between retries. Tests inject
// a no-op to avoid real waits.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Store) { s.sleep = fn }
}

// WithLogger sets the logger for retry warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store with default retry behavior.
func New(opts ...Option) *Store {
	s := &Store{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		sleep:       time.Sleep,
		logger:      log.Default(),
		tails:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// canonical resolves a path to its OS-normalized absolute form so that two
// spellings of the same file share one queue. Symlink resolution is
// best-effort: a not-yet-existing file can't be resolved, so we fall back to
// the cleaned absolute path.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	// Resolve the parent directory instead; the file itself may not exist yet.
	dir, base := filepath.Split(abs)
	if resolvedDir, err := filepath.EvalSymlinks(filepath.Clean(dir)); err == nil {
		return filepath.Join(resolvedDir, base)
	}
	return abs
}

// enqueue runs fn after every previously enqueued operation for the same
// canonical path has completed. Operations on different paths do not block
// each other.
func (s *Store) enqueue(path string, fn func() error) error {
	key := canonical(path)
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[key]
	s.tails[key] = done
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}

	err := fn()

	close(done)
	s.mu.Lock()
	if s.tails[key] == done {
		delete(s.tails, key)
	}
	s.mu.Unlock()

	return err
}

// Write replaces the file's content atomically. Concurrent readers see
// either the old content or the new content, never a mix.
func (s *Store) Write(path string, data []byte) error {
	return s.enqueue(path, func() error {
		return s.withRetry(path, func() error {
			return atomicWrite(path, data)
		})
	})
}

// Append appends data to the file, creating it if necessary. The whole
// read-concatenate-rename cycle runs under the per-path queue, so concurrent
// appends to one path land in call order with no interleaved bytes.
func (s *Store) Append(path string, data []byte) error {
	return s.enqueue(path, func() error {
		return s.withRetry(path, func() error {
			existing, err := os.ReadFile(path)
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			combined := make([]byte, 0, len(existing)+len(data))
			combined = append(combined, existing...)
			combined = append(combined, data...)
			return atomicWrite(path, combined)
		})
	})
}

// Read returns the file's content, serialized against in-flight writes to
// the same path.
func (s *Store) Read(path string) ([]byte, error) {
	var data []byte
	err := s.enqueue(path, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	return data, err
}

// Delete removes the file. Missing files are not an error.
func (s *Store) Delete(path string) error {
	return s.enqueue(path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// UpdateJSON performs a read-modify-write cycle on a JSON file under the
// per-path queue. Missing or corrupt content starts the updater from the
// zero value of T instead of failing the caller.
func UpdateJSON[T any](s *Store, path string, update func(*T) error) error {
	return s.enqueue(path, func() error {
		return s.withRetry(path, func() error {
			var v T
			if data, err := os.ReadFile(path); err == nil {
				if err := json.Unmarshal(data, &v); err != nil {
					s.logger.Printf("[store] corrupt JSON at %s, starting fresh: %v", path, err)
					var zero T
					v = zero
				}
			} else if !os.IsNotExist(err) {
				return err
			}

			if err := update(&v); err != nil {
				return err
			}

			data, err := json.MarshalIndent(&v, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling %s: %w", path, err)
			}
			data = append(data, '\n')
			return atomicWrite(path, data)
		})
	})
}

// ReadJSON decodes the file into v, serialized against in-flight writes.
func (s *Store) ReadJSON(path string, v interface{}) error {
	data, err := s.Read(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// WriteJSON marshals v and writes it atomically.
func (s *Store) WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	return s.Write(path, data)
}

// withRetry runs op, retrying transient I/O failures with doubling backoff
// up to the attempt ceiling. Permission errors abort immediately: retrying
// EACCES never helps.
func (s *Store) withRetry(path string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxInterval = s.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // attempts are bounded by count, not wall clock

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("permission denied for %s: %w", path, err)
		}
		if attempt >= s.maxAttempts {
			break
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		s.logger.Printf("[store] retrying %s after error (attempt %d/%d): %v", path, attempt, s.maxAttempts, err)
		s.sleep(delay)
	}
	return fmt.Errorf("giving up on %s after %d attempts: %w", path, s.maxAttempts, err)
}

// atomicWrite writes data to a uniquely named temp file in the destination
// directory, syncs it, and renames it over the destination. Rename is the
// only step visible to readers.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	// Best-effort directory sync so the rename itself is durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
