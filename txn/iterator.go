package txn

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
)

// iterTracker counts the range-scan iterators currently open on one
// transaction attempt (spec §4.4, §5: "every range iterator is tracked;
// commit blocks (with yield) up to a bounded timeout until active-iterator
// count is zero").
type iterTracker struct {
	count int64
}

func (t *iterTracker) inc() { atomic.AddInt64(&t.count, 1) }
func (t *iterTracker) dec() { atomic.AddInt64(&t.count, -1) }

func (t *iterTracker) waitZero(ctx context.Context, timeout time.Duration) error {
	if atomic.LoadInt64(&t.count) == 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for atomic.LoadInt64(&t.count) > 0 {
		if time.Now().After(deadline) {
			return errs.New(errs.KindTimeout, "timed out waiting for outstanding iterators to close before commit")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// trackedTx wraps a raw kv.Tx so every iterator it hands out registers
// with the attempt's tracker.
type trackedTx struct {
	kv.Tx
	tracker *iterTracker
}

func (t *trackedTx) GetRange(ctx context.Context, begin, end []byte, reverse bool, limit int, snapshot bool) (kv.Iterator, error) {
	it, err := t.Tx.GetRange(ctx, begin, end, reverse, limit, snapshot)
	if err != nil {
		return nil, err
	}
	t.tracker.inc()
	return &trackedIterator{Iterator: it, tracker: t.tracker}, nil
}

type trackedIterator struct {
	kv.Iterator
	tracker *iterTracker
	closed  bool
}

func (it *trackedIterator) Close() {
	if !it.closed {
		it.closed = true
		it.tracker.dec()
	}
	it.Iterator.Close()
}
