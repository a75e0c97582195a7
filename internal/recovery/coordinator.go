// Package recovery implements checkpoint-driven failure recovery: a
// priority-ordered strategy chain (retry, fallback, graceful degradation),
// single-flight deduplication of concurrent recovery requests, and
// per-service health tracking for external circuit breakers.
package recovery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

// timeNow is a function that returns the current time. It can be overridden in tests.
var timeNow = time.Now

// Operation identifies a failing unit of work and how to re-attempt it.
// Service and Name form the deduplication key for concurrent recoveries.
type Operation struct {
	Service string
	Name    string
	Run     func(ctx context.Context) (any, error)
}

// RecoverOptions supply the optional pieces of a recovery request: a
// previously created checkpoint, a fallback alternative, and a
// degraded-mode handler of last resort. Degrade runs only when a handler
// is supplied; without one the chain can exhaust and surface the last
// error instead of fabricating a degraded result.
type RecoverOptions struct {
	CheckpointID string
	Fallback     func(ctx context.Context) (any, error)
	Degrade      func(ctx context.Context) (any, error)
}

// Result is the outcome of a recovery request. Either Err is nil and Value
// carries the recovered operation's output (possibly flagged Degraded or
// FallbackUsed), or Err wraps the last failure after every strategy was
// exhausted. Callers never see a raw low-level error without this wrapper.
type Result struct {
	Strategy     string
	Degraded     bool
	FallbackUsed bool
	Attempts     int
	Value        any
	Err          error
}

// flightKey deduplicates concurrent recovery requests.
type flightKey struct {
	service   string
	operation string
}

type flight struct {
	done chan struct{}
	res  *Result
}

// Coordinator is the terminal backstop for operation failures. Safe for
// concurrent use.
type Coordinator struct {
	root       string
	store      *store.Store
	cfg        models.RecoveryConfig
	classifier ErrorClassifier
	chain      []strategy
	newID      func() string
	sleep      func(time.Duration)
	logger     *log.Logger

	mu      sync.Mutex
	flights map[flightKey]*flight
	health  map[string]*models.ServiceHealth
	wg      sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClassifier replaces the default error classifier.
func WithClassifier(cl ErrorClassifier) CoordinatorOption {
	return func(c *Coordinator) { c.classifier = cl }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(time.Duration)) CoordinatorOption {
	return func(c *Coordinator) { c.sleep = fn }
}

// WithIDGenerator replaces the checkpoint id generator, for tests.
func WithIDGenerator(fn func() string) CoordinatorOption {
	return func(c *Coordinator) { c.newID = fn }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *log.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a recovery coordinator rooted at the data
// directory.
func NewCoordinator(root string, st *store.Store, cfg models.RecoveryConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		root:       root,
		store:      st,
		cfg:        cfg,
		classifier: DefaultClassifier(),
		chain:      []strategy{retryStrategy{}, fallbackStrategy{}, degradeStrategy{}},
		newID:      uuid.NewString,
		sleep:      time.Sleep,
		logger:     log.Default(),
		flights:    make(map[flightKey]*flight),
		health:     make(map[string]*models.ServiceHealth),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecoverFromFailure runs the strategy chain for an operation the caller
// already attempted once. cause is that attempt's error. Concurrent calls
// for the same (service, operation) key share one execution: later callers
// block until the first finishes and receive the identical Result.
func (c *Coordinator) RecoverFromFailure(ctx context.Context, op Operation, cause error, opts RecoverOptions) *Result {
	key := flightKey{op.Service, op.Name}

	c.mu.Lock()
	if f, ok := c.flights[key]; ok {
		c.mu.Unlock()
		<-f.done
		return f.res
	}
	f := &flight{done: make(chan struct{})}
	c.flights[key] = f
	c.wg.Add(1)
	c.mu.Unlock()

	res := c.recover(ctx, op, cause, opts)

	c.mu.Lock()
	delete(c.flights, key)
	c.mu.Unlock()

	f.res = res
	close(f.done)
	c.wg.Done()
	return res
}

func (c *Coordinator) recover(ctx context.Context, op Operation, cause error, opts RecoverOptions) *Result {
	c.markRecovering(op.Service)

	r := &request{
		op:      op,
		opts:    opts,
		class:   c.classifier.Classify(cause),
		lastErr: cause,
	}
	if opts.CheckpointID != "" {
		cp, err := c.LoadCheckpoint(opts.CheckpointID)
		if err != nil {
			c.logger.Printf("[recovery] checkpoint %s unusable: %v", opts.CheckpointID, err)
		}
		if cp != nil && cp.Expired(timeNow()) {
			// An expired checkpoint is non-recoverable: its retry budget no
			// longer applies, and the reaper will remove the file.
			c.logger.Printf("[recovery] checkpoint %s expired, not retrying %s.%s", cp.ID, op.Service, op.Name)
			r.class.Retryable = false
			cp = nil
		}
		r.cp = cp
	}

	for _, s := range c.chain {
		if !s.eligible(r) {
			continue
		}
		v, err := s.attempt(ctx, c, r)
		if err != nil {
			r.lastErr = err
			r.class = c.classifier.Classify(err)
			continue
		}

		if r.cp != nil {
			if derr := c.DeleteCheckpoint(r.cp.ID); derr != nil {
				c.logger.Printf("[recovery] failed to delete checkpoint %s: %v", r.cp.ID, derr)
			}
		}
		res := &Result{
			Strategy:     s.name(),
			Degraded:     s.name() == StrategyDegrade,
			FallbackUsed: s.name() == StrategyFallback,
			Attempts:     r.attempts,
			Value:        v,
		}
		c.markRecovered(op.Service, res.Degraded)
		c.logger.Printf("[recovery] %s.%s recovered via %s after %d attempts", op.Service, op.Name, res.Strategy, res.Attempts)
		return res
	}

	// Non-retryable failures leave the checkpoint on disk for inspection;
	// the TTL reaper removes it eventually.
	c.markFailed(op.Service)
	return &Result{
		Attempts: r.attempts,
		Err:      fmt.Errorf("recovery exhausted for %s.%s after %d attempts: %w", op.Service, op.Name, r.attempts, r.lastErr),
	}
}

// runWithTimeout races one attempt against the configured operation
// timeout. A timeout is an ordinary failure, eligible for the next
// strategy in the chain.
func (c *Coordinator) runWithTimeout(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if c.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()
	}

	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Health returns a snapshot of the service's tracked health, or a healthy
// default for services never recovered.
func (c *Coordinator) Health(service string) models.ServiceHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.health[service]; ok {
		return *h
	}
	return models.ServiceHealth{
		ServiceName: service,
		State:       models.HealthHealthy,
		LastCheck:   timeNow().UTC(),
	}
}

// Shutdown waits for in-flight recoveries to finish. Nothing is cancelled
// mid-flight.
func (c *Coordinator) Shutdown() {
	c.wg.Wait()
}

func (c *Coordinator) markRecovering(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthLocked(service)
	h.State = models.HealthRecovering
	h.RecoveryAttempts++
	h.LastCheck = timeNow().UTC()
}

func (c *Coordinator) markRecovered(service string, degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthLocked(service)
	if degraded {
		h.State = models.HealthDegraded
	} else {
		h.State = models.HealthHealthy
	}
	h.ConsecutiveFailures = 0
	h.LastCheck = timeNow().UTC()
}

func (c *Coordinator) markFailed(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthLocked(service)
	h.State = models.HealthFailed
	h.ConsecutiveFailures++
	h.LastCheck = timeNow().UTC()
}

func (c *Coordinator) healthLocked(service string) *models.ServiceHealth {
	h, ok := c.health[service]
	if !ok {
		h = &models.ServiceHealth{ServiceName: service, State: models.HealthHealthy}
		c.health[service] = h
	}
	return h
}
