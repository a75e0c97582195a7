package recovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/emberwatch-io/emberwatch/internal/models"
)

// Strategy names reported in recovery results.
const (
	StrategyRetry    = "retry"
	StrategyFallback = "fallback"
	StrategyDegrade  = "degrade"
)

// defaultMaxRetries bounds the retry strategy when no checkpoint supplies
// a budget.
const defaultMaxRetries = 3

// request carries one recovery attempt's mutable state through the
// strategy chain.
type request struct {
	op       Operation
	opts     RecoverOptions
	cp       *models.Checkpoint
	class    Classification
	lastErr  error
	attempts int
}

// strategy is one link in the recovery chain. eligible is consulted in
// chain order; the first eligible strategy whose attempt succeeds wins.
type strategy interface {
	name() string
	eligible(r *request) bool
	attempt(ctx context.Context, c *Coordinator, r *request) (any, error)
}

// retryStrategy re-attempts the failing operation with doubling backoff.
// Eligible only for errors the classifier marks retryable, and only while
// the retry budget (checkpoint's or the default) has room.
type retryStrategy struct{}

func (retryStrategy) name() string { return StrategyRetry }

func (retryStrategy) eligible(r *request) bool {
	return r.class.Retryable && retryBudget(r) > retryCount(r)
}

func (retryStrategy) attempt(ctx context.Context, c *Coordinator, r *request) (any, error) {
	budget := retryBudget(r)
	count := retryCount(r)

	var err error
	for count < budget {
		c.sleep(c.retryDelay(count))
		r.attempts++

		var v any
		v, err = c.runWithTimeout(ctx, r.op.Run)
		count++
		if r.cp != nil {
			r.cp.RetryCount = count
			if perr := c.persistCheckpoint(r.cp); perr != nil {
				c.logger.Printf("[recovery] failed to update checkpoint %s: %v", r.cp.ID, perr)
			}
		}
		if err == nil {
			return v, nil
		}
		c.logger.Printf("[recovery] retry %d/%d for %s.%s failed: %v", count, budget, r.op.Service, r.op.Name, err)
		if !c.classifier.Classify(err).Retryable {
			break
		}
	}
	return nil, err
}

func retryBudget(r *request) int {
	if r.cp != nil {
		return r.cp.MaxRetries
	}
	return defaultMaxRetries
}

func retryCount(r *request) int {
	if r.cp != nil {
		return r.cp.RetryCount
	}
	return 0
}

// fallbackStrategy substitutes a degraded-but-correct alternative, such as
// cached data, when the caller supplied one.
type fallbackStrategy struct{}

func (fallbackStrategy) name() string { return StrategyFallback }

func (fallbackStrategy) eligible(r *request) bool {
	return r.opts.Fallback != nil
}

func (fallbackStrategy) attempt(ctx context.Context, c *Coordinator, r *request) (any, error) {
	r.attempts++
	return c.runWithTimeout(ctx, r.opts.Fallback)
}

// degradeStrategy is the last resort: a caller-supplied handler produces a
// reduced-functionality result instead of failing the caller outright.
type degradeStrategy struct{}

func (degradeStrategy) name() string { return StrategyDegrade }

func (degradeStrategy) eligible(r *request) bool {
	return r.opts.Degrade != nil
}

func (degradeStrategy) attempt(ctx context.Context, c *Coordinator, r *request) (any, error) {
	r.attempts++
	return c.runWithTimeout(ctx, r.opts.Degrade)
}

// retryDelay returns min(base * 2^n, cap) for the nth retry.
func (c *Coordinator) retryDelay(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.RetryMaxDelay
	b.MaxElapsedTime = 0

	d := b.NextBackOff()
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}
