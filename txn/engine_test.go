package txn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
)

func testOpts() Options {
	o := DefaultOptions()
	o.InitialBackoff = time.Millisecond
	o.MaxBackoff = 5 * time.Millisecond
	return o
}

func TestCommitSucceedsFirstAttempt(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, nil, nil)

	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, []byte("k"), []byte("v"))
	}, testOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, store.attempts)
}

func TestRetriesOnRetryableError(t *testing.T) {
	store := newFakeStore()
	store.failN = 2
	e := NewEngine(store, nil, nil)

	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, []byte("k"), []byte("v"))
	}, testOpts(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, store.attempts)
}

func TestNonRetryableErrorPropagatesImmediately(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, nil, nil)

	sentinel := errs.New(errs.KindValidationFailed, "nope")
	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return sentinel
	}, testOpts(), nil, nil)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, store.attempts)
}

func TestRetryLimitExhausted(t *testing.T) {
	store := newFakeStore()
	store.failN = 1000
	e := NewEngine(store, nil, nil)
	opts := testOpts()
	opts.RetryLimit = 2

	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return nil
	}, opts, nil, nil)
	require.Error(t, err)
	require.Equal(t, 3, store.attempts) // initial + 2 retries
}

type fixedPriorityCheck struct {
	p   int
	err error
}

func (c fixedPriorityCheck) Priority() int { return c.p }
func (c fixedPriorityCheck) Check(ctx context.Context, tx kv.Tx) error { return c.err }

func TestPreCommitCheckFailFastAbortsCommit(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, nil, nil)
	opts := testOpts()
	opts.FailFastPreCommit = true

	checkErr := errs.New(errs.KindValidationFailed, "bad record")
	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, []byte("k"), []byte("v"))
	}, opts, []PreCommitCheck{fixedPriorityCheck{p: 1, err: checkErr}}, nil)
	require.Error(t, err)

	store.mu.Lock()
	_, committed := store.data["k"]
	store.mu.Unlock()
	require.False(t, committed)
}

type countingAction struct {
	p   int
	ran *int64
	err error
}

func (a countingAction) Priority() int { return a.p }
func (a countingAction) Run(ctx context.Context, committedVersion int64) error {
	atomic.AddInt64(a.ran, 1)
	return a.err
}

func TestPostCommitActionsRunAfterCommit(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, nil, nil)

	var ran int64
	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, []byte("k"), []byte("v"))
	}, testOpts(), nil, []PostCommitAction{
		countingAction{p: 1, ran: &ran},
		countingAction{p: 2, ran: &ran},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&ran))
}

func TestReadVersionCacheUpdatedAfterCommit(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store, nil, nil)

	err := e.Run(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, []byte("k"), []byte("v"))
	}, testOpts(), nil, nil)
	require.NoError(t, err)

	v, ok := e.ReadCache.Get(ReadVersionCached, 0)
	require.True(t, ok)
	require.GreaterOrEqual(t, v, int64(0))
}
