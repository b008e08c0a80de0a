// Package txn implements the transaction runtime (spec C4): a retry loop
// with exponential backoff, an optimistic read-version cache, commit
// hooks, transaction-scoped iterator tracking, and per-operation
// snapshot-vs-serializable isolation control.
package txn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/metrics"
)

// iteratorDrainTimeout bounds how long commit waits for outstanding
// iterators to close (spec §4.4, §5).
const iteratorDrainTimeout = 2 * time.Second

// largeTransactionThreshold is the default byte-size above which the
// monitor logs a warning (spec §5: "default 5 MB").
const largeTransactionThreshold = 5 * 1024 * 1024

// Closure is the user transaction body. It must be safe to invoke more
// than once (spec §9: "express the user closure as a value that can be
// re-invoked, not as a one-shot continuation; forbid side effects").
type Closure func(ctx context.Context, tx kv.Tx) error

// Engine is a shared, explicitly-constructed service object (spec §9:
// avoid singletons) wrapping one kv.Store with the runtime behavior of
// §4.4. It owns the process-wide caches and registries listed in §5.
type Engine struct {
	store   kv.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	ReadCache *ReadVersionCache
	Hooks     *HookRegistry

	clock func() time.Time
}

func NewEngine(store kv.Store, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{
		store:     store,
		logger:    logger,
		metrics:   m,
		ReadCache: NewReadVersionCache(),
		Hooks:     NewHookRegistry(),
		clock:     time.Now,
	}
}

// Run executes closure inside a transaction attempt, retrying on
// retryable KV errors with jittered exponential backoff (newBackoff) up to
// opts.RetryLimit additional attempts (spec §4.4). extraChecks/extraActions
// are combined with whatever is registered on e.Hooks for this one call.
func (e *Engine) Run(ctx context.Context, closure Closure, opts Options, extraChecks []PreCommitCheck, extraActions []PostCommitAction) error {
	registeredChecks, registeredActions := e.Hooks.snapshot()
	checks := append(append([]PreCommitCheck(nil), registeredChecks...), extraChecks...)
	actions := append(append([]PostCommitAction(nil), registeredActions...), extraActions...)

	bo := e.newBackoff(opts)

	var lastErr error
	for attempt := 0; attempt <= opts.RetryLimit; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}

		var committedVersion int64
		tracker := &iterTracker{}
		isFirstAttempt := attempt == 0

		err := e.store.Transact(attemptCtx, func(ctx context.Context, rawTx kv.Tx) error {
			if isFirstAttempt {
				if v, ok := e.ReadCache.Get(opts.ReadVersionPolicy, opts.StaleBound); ok {
					rawTx.SetReadVersion(v)
				}
			}
			tx := &trackedTx{Tx: rawTx, tracker: tracker}

			if err := closure(ctx, tx); err != nil {
				return err
			}
			if err := runPreCommit(ctx, tx, checks, opts.FailFastPreCommit); err != nil {
				return errs.Wrap(errs.KindValidationFailed, err, "pre-commit check failed")
			}
			if err := tracker.waitZero(ctx, iteratorDrainTimeout); err != nil {
				return err
			}
			e.checkLargeTransaction(rawTx)
			if v, verr := rawTx.GetCommittedVersion(); verr == nil {
				committedVersion = v
			}
			return nil
		})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			e.ReadCache.Update(committedVersion, e.clock())
			e.metrics.Commits.Inc()
			runPostCommit(ctx, actions, committedVersion, e.logger)
			return nil
		}

		lastErr = err
		if !errs.IsRetryable(err) {
			return err
		}
		e.metrics.Conflicts.Inc()
		if attempt == opts.RetryLimit {
			break
		}
		e.metrics.Retries.Inc()

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// newBackoff builds an exponential backoff generator per opts: the
// interval starts at InitialBackoff (default 10ms), doubles on each call
// and is capped at MaxBackoff (default 1s); RandomizationFactor 0.5 then
// spreads each returned delay uniformly over ±50% of that interval. The
// jitter is symmetric, so a delay can be as short as half the interval;
// there is no separate exponent cap, MaxBackoff alone bounds the growth.
func (e *Engine) newBackoff(opts Options) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 10 * time.Millisecond
	}
	b.MaxInterval = opts.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = 1 * time.Second
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // attempt count, not elapsed time, bounds the loop
	b.Reset()
	return b
}

func (e *Engine) checkLargeTransaction(tx kv.Tx) {
	sized, ok := tx.(kv.ApproxSize)
	if !ok {
		return
	}
	n := sized.ApproximateSize()
	e.metrics.TxnByteSize.Observe(float64(n))
	if n > largeTransactionThreshold {
		e.metrics.LargeTxnWarns.Inc()
		e.logger.Warn("large transaction", zap.Int("approx_bytes", n))
	}
}
