package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
)

// CheckpointOptions bound a checkpoint's lifetime and retry budget. Zero
// values fall back to the coordinator's configured defaults.
type CheckpointOptions struct {
	SessionID    string
	Dependencies []string
	TTL          time.Duration
	MaxRetries   int
}

// CreateCheckpoint persists a resumable unit of work and returns its id.
func (c *Coordinator) CreateCheckpoint(opType models.OperationType, state json.RawMessage, opts CheckpointOptions) (string, error) {
	if !models.KnownOperationTypes[opType] {
		return "", fmt.Errorf("unknown operation type %q", opType)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := timeNow().UTC()
	cp := &models.Checkpoint{
		Version:       1,
		ID:            c.newID(),
		SessionID:     opts.SessionID,
		OperationType: opType,
		State:         state,
		Dependencies:  opts.Dependencies,
		Timestamp:     now,
		MaxRetries:    opts.MaxRetries,
		ExpiresAt:     now.Add(ttl),
	}
	if err := c.persistCheckpoint(cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// LoadCheckpoint returns a checkpoint by id, or nil if none exists.
func (c *Coordinator) LoadCheckpoint(id string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := c.store.ReadJSON(config.RecoveryCheckpointFile(c.root, id), &cp)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	if !models.KnownOperationTypes[cp.OperationType] {
		return nil, fmt.Errorf("checkpoint %s has unknown operation type %q", id, cp.OperationType)
	}
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint. Missing files are not an error.
func (c *Coordinator) DeleteCheckpoint(id string) error {
	return c.store.Delete(config.RecoveryCheckpointFile(c.root, id))
}

// ListCheckpoints returns every persisted operation checkpoint.
func (c *Coordinator) ListCheckpoints() ([]*models.Checkpoint, error) {
	dir := config.RecoveryCheckpointsDir(c.root)
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint dir: %w", err)
	}
	var cps []*models.Checkpoint
	for _, entry := range names {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var cp models.Checkpoint
		path := filepath.Join(dir, entry.Name())
		if err := c.store.ReadJSON(path, &cp); err != nil {
			c.logger.Printf("[recovery] skipping unreadable checkpoint %s: %v", entry.Name(), err)
			continue
		}
		cps = append(cps, &cp)
	}
	return cps, nil
}

// ReapExpired removes checkpoints past their TTL and returns how many were
// reaped. Runs periodically from the daemon, bounding storage growth.
func (c *Coordinator) ReapExpired() (int, error) {
	cps, err := c.ListCheckpoints()
	if err != nil {
		return 0, err
	}
	now := timeNow().UTC()
	reaped := 0
	for _, cp := range cps {
		if !cp.Expired(now) {
			continue
		}
		if err := c.DeleteCheckpoint(cp.ID); err != nil {
			c.logger.Printf("[recovery] failed to reap checkpoint %s: %v", cp.ID, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		c.logger.Printf("[recovery] reaped %d expired checkpoints", reaped)
	}
	return reaped, nil
}

func (c *Coordinator) persistCheckpoint(cp *models.Checkpoint) error {
	if err := c.store.WriteJSON(config.RecoveryCheckpointFile(c.root, cp.ID), cp); err != nil {
		return fmt.Errorf("persisting checkpoint %s: %w", cp.ID, err)
	}
	return nil
}
