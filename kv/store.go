// Package kv defines the external key-value store contract this engine is
// layered on top of (see spec §6). The engine never depends on a concrete
// store; it only depends on Store/Tx. One reference adapter, kvbolt, is
// shipped in the kvbolt subpackage for tests and local use.
package kv

import "context"

// AtomicOp names one of the associative, commutative mutation primitives
// the KV store must provide natively (spec §6).
type AtomicOp int

const (
	OpAdd AtomicOp = iota
	OpMin
	OpMax
	OpBitOr
	OpBitAnd
	OpBitXor
)

// ConflictKind selects whether addConflictRange registers a read or write range.
type ConflictKind int

const (
	ConflictRead ConflictKind = iota
	ConflictWrite
)

// KeyValue is one entry returned from a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Versionstamp is the opaque, monotonically increasing token the store
// assigns at commit time (spec Glossary).
type Versionstamp [10]byte

// Store is the root handle. Implementations must support multi-key ACID
// transactions with optimistic concurrency.
type Store interface {
	// Transact runs fn inside a fresh transaction, retrying internally is
	// NOT performed here — that is the transaction runtime's job (C4).
	// Transact is the one-shot primitive the runtime builds retry on top of.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetReadVersion supports the read-version cache (§4.4); a cached
	// version is applied to an attempt through Tx.SetReadVersion.
	GetReadVersion(ctx context.Context) (int64, error)

	Close() error
}

// Tx is a single transaction attempt. All methods may return a retryable
// error (errs.KindRetryableKV) which the transaction runtime classifies.
type Tx interface {
	Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error)
	GetRange(ctx context.Context, begin, end []byte, reverse bool, limit int, snapshot bool) (Iterator, error)

	Set(ctx context.Context, key, value []byte) error
	Clear(ctx context.Context, key []byte) error
	ClearRange(ctx context.Context, begin, end []byte) error

	AtomicOp(ctx context.Context, key []byte, param []byte, op AtomicOp) error

	AddConflictRange(begin, end []byte, kind ConflictKind) error

	SetReadVersion(version int64)
	GetCommittedVersion() (int64, error)

	// NextVersionstamp reserves the versionstamp this transaction will
	// commit with; valid to call before Commit, value only final after.
	NextVersionstamp() Versionstamp

	// Cancel aborts the attempt; iterators obtained from this Tx become invalid.
	Cancel()
}

// Iterator is a transaction-scoped range-scan cursor. Every iterator must
// be registered with the owning transaction's tracker on creation and
// deregistered on Close (spec §4.4, §5) so that commit can wait for
// outstanding iterators to drain.
type Iterator interface {
	Next(ctx context.Context) (KeyValue, bool, error)
	Close()
}

// ApproxSize reports the estimated accumulated mutation byte size of a
// transaction attempt so far, consulted by the large-transaction monitor.
type ApproxSize interface {
	ApproximateSize() int
}
