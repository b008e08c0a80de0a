package txn

import (
	"context"
	"sort"
	"sync"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
)

// fakeStore is a minimal in-memory kv.Store used only to drive Engine
// retry/hook/cache behavior in tests without needing a real backend.
type fakeStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	version  int64
	failN    int // number of Transact calls (across all attempts) to fail with retryable error
	attempts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) GetReadVersion(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

func (s *fakeStore) Transact(ctx context.Context, fn func(ctx context.Context, tx kv.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	shouldFail := s.attempts <= s.failN
	snapshot := map[string][]byte{}
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()

	t := &fakeTx{store: s, writes: map[string][]byte{}, clears: map[string]bool{}, snapshot: snapshot}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if shouldFail {
		return errs.New(errs.KindRetryableKV, "simulated conflict")
	}

	s.mu.Lock()
	for k := range t.clears {
		delete(s.data, k)
	}
	for k, v := range t.writes {
		s.data[k] = v
	}
	s.version++
	s.mu.Unlock()
	return nil
}

type fakeTx struct {
	store    *fakeStore
	snapshot map[string][]byte
	writes   map[string][]byte
	clears   map[string]bool
}

func (t *fakeTx) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		return v, nil
	}
	if t.clears[string(key)] {
		return nil, nil
	}
	return t.snapshot[string(key)], nil
}

func (t *fakeTx) GetRange(ctx context.Context, begin, end []byte, reverse bool, limit int, snapshot bool) (kv.Iterator, error) {
	var keys []string
	for k := range t.snapshot {
		if k >= string(begin) && (end == nil || k < string(end)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return &fakeIterator{tx: t, keys: keys}, nil
}

func (t *fakeTx) Set(ctx context.Context, key, value []byte) error {
	t.writes[string(key)] = append([]byte(nil), value...)
	delete(t.clears, string(key))
	return nil
}

func (t *fakeTx) Clear(ctx context.Context, key []byte) error {
	t.clears[string(key)] = true
	delete(t.writes, string(key))
	return nil
}

func (t *fakeTx) ClearRange(ctx context.Context, begin, end []byte) error { return nil }

func (t *fakeTx) AtomicOp(ctx context.Context, key []byte, param []byte, op kv.AtomicOp) error {
	return nil
}

func (t *fakeTx) AddConflictRange(begin, end []byte, kind kv.ConflictKind) error { return nil }

func (t *fakeTx) SetReadVersion(version int64) {}

func (t *fakeTx) GetCommittedVersion() (int64, error) {
	return t.store.version + 1, nil
}

func (t *fakeTx) NextVersionstamp() kv.Versionstamp { return kv.Versionstamp{} }

func (t *fakeTx) Cancel() {}

type fakeIterator struct {
	tx   *fakeTx
	keys []string
	i    int
}

func (it *fakeIterator) Next(ctx context.Context) (kv.KeyValue, bool, error) {
	if it.i >= len(it.keys) {
		return kv.KeyValue{}, false, nil
	}
	k := it.keys[it.i]
	it.i++
	v, _ := it.tx.Get(ctx, []byte(k), false)
	return kv.KeyValue{Key: []byte(k), Value: v}, true, nil
}

func (it *fakeIterator) Close() {}
