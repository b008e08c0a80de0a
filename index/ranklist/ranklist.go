// Package ranklist implements the ranked skip list (spec C6): a
// probabilistic multi-level ordered structure keyed by (score, id), with a
// span counter on every forward pointer so rank_of/by_rank/percentile run in
// expected O(log n) KV round trips without scanning the full list.
//
// Open design question resolved here: the source algorithm (Pugh 1990)
// treats "insert before any existing node" as a special case requiring an
// extra scan to learn the displaced first entry's rank. This
// implementation gives the list head a persisted forward-pointer entry at
// every level, exactly like any real node (head's own rank is always 0).
// That turns the head-insert branch into an ordinary instance of the
// update[l]-not-nil branch, so the span arithmetic below has exactly one
// case instead of two, and the descent never needs a separate scan.
package ranklist

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/tuple"
)

// DefaultMaxLevel bounds the number of levels a node can be promoted to;
// with a p=1/2 geometric draw this comfortably covers lists into the
// billions of entries.
const DefaultMaxLevel = 32

// Entry is one (score, id) pair returned by a read operation.
type Entry struct {
	Score tuple.Value
	ID    []byte
}

// List is a ranked skip list persisted under one index's subspace prefix.
// A List value is safe for concurrent use by multiple goroutines driving
// independent transactions; the only in-process state is the level-draw
// RNG, guarded by mu.
type List struct {
	prefix   []byte
	maxLevel int

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a List rooted at prefix (typically sub.IndexPrefix(indexName)).
// seed controls the level-draw RNG only; it does not affect correctness,
// only the expected shape of the structure.
func New(prefix []byte, maxLevel int, seed int64) *List {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &List{prefix: p, maxLevel: maxLevel, rng: rand.New(rand.NewSource(seed))}
}

func (l *List) levelPrefix(lvl int) []byte {
	return append(append([]byte{}, l.prefix...), byte(lvl))
}

func (l *List) headKey(lvl int) []byte {
	return append(l.levelPrefix(lvl), 0x00)
}

func (l *List) countKey() []byte {
	return append(append([]byte{}, l.prefix...), []byte("_count")...)
}

// nodeOrHeadKey returns the physical key for the virtual head (suffix ==
// nil) or a real node's suffix at the given level.
func (l *List) nodeOrHeadKey(lvl int, suffix []byte) []byte {
	if suffix == nil {
		return l.headKey(lvl)
	}
	return append(l.levelPrefix(lvl), suffix...)
}

// suffix is the order-preserving (score, id) encoding used as every real
// node's identity at every level it appears on.
func (l *List) suffix(score tuple.Value, id []byte) ([]byte, error) {
	return tuple.Encode(nil, score, tuple.BytesVal(id))
}

func decodeSuffix(suffix []byte) (tuple.Value, []byte, error) {
	vals, err := tuple.Decode(suffix)
	if err != nil {
		return tuple.Value{}, nil, errs.Wrap(errs.KindTupleEncoding, err, "decoding ranked list node")
	}
	if len(vals) != 2 || vals[1].Kind != tuple.KindBytes {
		return tuple.Value{}, nil, errs.New(errs.KindTupleEncoding, "malformed ranked list node")
	}
	return vals[0], vals[1].Bytes, nil
}

func encodeSpan(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeSpan(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// firstAfter finds the first persisted entry at lvl strictly after
// afterKeyFull (head or a real node's full key).
func (l *List) firstAfter(ctx context.Context, tx kv.Tx, lvl int, afterKeyFull []byte) (kv.KeyValue, bool, error) {
	begin := directory.RangeEnd(afterKeyFull)
	end := directory.RangeEnd(l.levelPrefix(lvl))
	it, err := tx.GetRange(ctx, begin, end, false, 1, false)
	if err != nil {
		return kv.KeyValue{}, false, errs.Wrap(errs.KindNonRetryableKV, err, "scanning ranked list level")
	}
	defer it.Close()
	kvpair, ok, err := it.Next(ctx)
	if err != nil {
		return kv.KeyValue{}, false, errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list entry")
	}
	return kvpair, ok, nil
}

// advance walks forward at lvl from (curSuffix, curRank) while the next
// entry's encoded identity precedes target, returning the position
// immediately before target: its suffix (nil for head), its own forward
// span at lvl (0 meaning no forward pointer), and its absolute rank.
func (l *List) advance(ctx context.Context, tx kv.Tx, lvl int, curSuffix []byte, curRank int64, target []byte) ([]byte, int64, int64, error) {
	for {
		curKeyFull := l.nodeOrHeadKey(lvl, curSuffix)
		spanBytes, err := tx.Get(ctx, curKeyFull, false)
		if err != nil {
			return nil, 0, 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list span")
		}
		span := decodeSpan(spanBytes)
		if span == 0 {
			return curSuffix, 0, curRank, nil
		}
		nextKV, ok, err := l.firstAfter(ctx, tx, lvl, curKeyFull)
		if err != nil {
			return nil, 0, 0, err
		}
		if !ok {
			return curSuffix, span, curRank, nil
		}
		nextSuffix := nextKV.Key[len(l.levelPrefix(lvl)):]
		if bytes.Compare(nextSuffix, target) < 0 {
			curRank += span
			curSuffix = nextSuffix
			continue
		}
		return curSuffix, span, curRank, nil
	}
}

// locateAll descends every level once, carrying position forward from each
// level to the next (spec §4.6 Phase 1), returning per-level predecessor
// suffix, predecessor span, and predecessor rank.
func (l *List) locateAll(ctx context.Context, tx kv.Tx, target []byte) ([][]byte, []int64, []int64, error) {
	updateSuffix := make([][]byte, l.maxLevel)
	updateSpan := make([]int64, l.maxLevel)
	rankAt := make([]int64, l.maxLevel)

	var curSuffix []byte
	var curRank int64
	for lvl := l.maxLevel - 1; lvl >= 0; lvl-- {
		suffix, span, rank, err := l.advance(ctx, tx, lvl, curSuffix, curRank, target)
		if err != nil {
			return nil, nil, nil, err
		}
		updateSuffix[lvl], updateSpan[lvl], rankAt[lvl] = suffix, span, rank
		curSuffix, curRank = suffix, rank
	}
	return updateSuffix, updateSpan, rankAt, nil
}

func (l *List) randomLevel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl := 1
	for lvl < l.maxLevel && l.rng.Intn(2) == 0 {
		lvl++
	}
	return lvl
}

// Insert adds (score, id) to the list. Inserting an id already present at
// a different score is the caller's responsibility to avoid (delete the
// old entry first); Insert does not itself detect stale duplicates.
func (l *List) Insert(ctx context.Context, tx kv.Tx, score tuple.Value, id []byte) error {
	target, err := l.suffix(score, id)
	if err != nil {
		return err
	}
	updateSuffix, updateSpan, rankAt, err := l.locateAll(ctx, tx, target)
	if err != nil {
		return err
	}

	newLevel := l.randomLevel()

	for lvl := 0; lvl < newLevel; lvl++ {
		predKey := l.nodeOrHeadKey(lvl, updateSuffix[lvl])
		var newSpan int64 // 0: the new node is the last one on this level
		if updateSpan[lvl] > 0 {
			newSpan = updateSpan[lvl] - (rankAt[0] - rankAt[lvl])
		}
		if err := tx.Set(ctx, l.nodeOrHeadKey(lvl, target), encodeSpan(newSpan)); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing ranked list node")
		}
		if err := tx.Set(ctx, predKey, encodeSpan(rankAt[0]-rankAt[lvl]+1)); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing ranked list predecessor span")
		}
	}
	for lvl := newLevel; lvl < l.maxLevel; lvl++ {
		if updateSpan[lvl] == 0 {
			continue
		}
		predKey := l.nodeOrHeadKey(lvl, updateSuffix[lvl])
		if err := tx.Set(ctx, predKey, encodeSpan(updateSpan[lvl]+1)); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "propagating ranked list span")
		}
	}
	if err := tx.AtomicOp(ctx, l.countKey(), encodeSpan(1), kv.OpAdd); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "incrementing ranked list count")
	}
	return nil
}

// Delete removes (score, id). It fails with ValidationFailed if the pair is
// not present.
func (l *List) Delete(ctx context.Context, tx kv.Tx, score tuple.Value, id []byte) error {
	target, err := l.suffix(score, id)
	if err != nil {
		return err
	}
	updateSuffix, updateSpan, _, err := l.locateAll(ctx, tx, target)
	if err != nil {
		return err
	}

	present, err := l.entryPresentAfter(ctx, tx, 0, updateSuffix[0], target)
	if err != nil {
		return err
	}
	if !present {
		return errs.New(errs.KindValidationFailed, "id not present in ranked list")
	}

	for lvl := 0; lvl < l.maxLevel; lvl++ {
		if updateSpan[lvl] == 0 {
			continue
		}
		predKey := l.nodeOrHeadKey(lvl, updateSuffix[lvl])
		targetKey := l.nodeOrHeadKey(lvl, target)
		targetSpanBytes, err := tx.Get(ctx, targetKey, false)
		if err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list node span")
		}
		if targetSpanBytes == nil {
			if err := tx.Set(ctx, predKey, encodeSpan(updateSpan[lvl]-1)); err != nil {
				return errs.Wrap(errs.KindNonRetryableKV, err, "shrinking ranked list span")
			}
			continue
		}
		merged := updateSpan[lvl] + decodeSpan(targetSpanBytes) - 1
		if err := tx.Clear(ctx, targetKey); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "clearing ranked list node")
		}
		if merged == 0 && updateSuffix[lvl] == nil {
			if err := tx.Clear(ctx, predKey); err != nil {
				return errs.Wrap(errs.KindNonRetryableKV, err, "clearing ranked list predecessor span")
			}
		} else if err := tx.Set(ctx, predKey, encodeSpan(merged)); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "merging ranked list span")
		}
	}
	if err := tx.AtomicOp(ctx, l.countKey(), encodeSpan(-1), kv.OpAdd); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "decrementing ranked list count")
	}
	return nil
}

func (l *List) entryPresentAfter(ctx context.Context, tx kv.Tx, lvl int, predSuffix, target []byte) (bool, error) {
	next, ok, err := l.firstAfter(ctx, tx, lvl, l.nodeOrHeadKey(lvl, predSuffix))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return bytes.Equal(next.Key[len(l.levelPrefix(lvl)):], target), nil
}

// RankOf returns the 0-indexed rank of (score, id) in descending-score
// order (rank 0 is the highest score), or ok=false if absent. The skip
// list's own storage order is ascending by (score, id) — see
// byAscendingRank — so this mirrors that position around the list's
// current size.
func (l *List) RankOf(ctx context.Context, tx kv.Tx, score tuple.Value, id []byte) (int64, bool, error) {
	target, err := l.suffix(score, id)
	if err != nil {
		return 0, false, err
	}
	updateSuffix, _, rankAt, err := l.locateAll(ctx, tx, target)
	if err != nil {
		return 0, false, err
	}
	present, err := l.entryPresentAfter(ctx, tx, 0, updateSuffix[0], target)
	if err != nil || !present {
		return 0, false, err
	}
	count, err := l.Count(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	return count - 1 - rankAt[0], true, nil
}

// ByRank returns the entry at the given 0-indexed rank, counting down
// from the highest score (rank 0 is the highest-scoring entry).
func (l *List) ByRank(ctx context.Context, tx kv.Tx, rank int64) (Entry, error) {
	if rank < 0 {
		return Entry{}, errs.New(errs.KindValidationFailed, "rank must be >= 0")
	}
	count, err := l.Count(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	if rank >= count {
		return Entry{}, errs.Newf(errs.KindValidationFailed, "rank %d out of range", rank)
	}
	return l.byAscendingRank(ctx, tx, count-rank)
}

// byAscendingRank returns the entry at the given 1-indexed rank in the
// list's native ascending (score, id) storage order — the skip list's
// span counters are built to answer exactly this question in expected
// O(log n) hops (spec §4.6 Phase 2).
func (l *List) byAscendingRank(ctx context.Context, tx kv.Tx, rank int64) (Entry, error) {
	var curSuffix []byte
	var curRank int64
	for lvl := l.maxLevel - 1; lvl >= 0; lvl-- {
		for {
			curKeyFull := l.nodeOrHeadKey(lvl, curSuffix)
			spanBytes, err := tx.Get(ctx, curKeyFull, false)
			if err != nil {
				return Entry{}, errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list span")
			}
			span := decodeSpan(spanBytes)
			if span == 0 || curRank+span > rank {
				break
			}
			nextKV, ok, err := l.firstAfter(ctx, tx, lvl, curKeyFull)
			if err != nil {
				return Entry{}, err
			}
			if !ok {
				break
			}
			curRank += span
			curSuffix = nextKV.Key[len(l.levelPrefix(lvl)):]
		}
	}
	if curRank != rank || curSuffix == nil {
		return Entry{}, errs.Newf(errs.KindValidationFailed, "rank %d out of range", rank)
	}
	score, id, err := decodeSuffix(curSuffix)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Score: score, ID: id}, nil
}

// Count returns the number of entries currently in the list.
func (l *List) Count(ctx context.Context, tx kv.Tx) (int64, error) {
	raw, err := tx.Get(ctx, l.countKey(), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list count")
	}
	return decodeSpan(raw), nil
}

// TopK returns the first k entries in descending (score, id) order —
// highest score first — reading level 0 backward (which always holds
// every entry in ascending sorted order, so the top of the ranking is
// the tail of the physical range).
func (l *List) TopK(ctx context.Context, tx kv.Tx, k int) ([]Entry, error) {
	if k <= 0 {
		return nil, nil
	}
	begin := directory.RangeEnd(l.headKey(0))
	end := directory.RangeEnd(l.levelPrefix(0))
	it, err := tx.GetRange(ctx, begin, end, true, k, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning ranked list")
	}
	defer it.Close()
	var out []Entry
	levelPrefixLen := len(l.levelPrefix(0))
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading ranked list entry")
		}
		if !ok {
			break
		}
		score, id, err := decodeSuffix(kvpair.Key[levelPrefixLen:])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Score: score, ID: id})
	}
	return out, nil
}

// Percentile returns the entry at the p-th percentile (p in [0,1]),
// rounding up to the nearest rank.
func (l *List) Percentile(ctx context.Context, tx kv.Tx, p float64) (Entry, error) {
	if p < 0 || p > 1 {
		return Entry{}, errs.New(errs.KindValidationFailed, "percentile must be within [0,1]")
	}
	count, err := l.Count(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	if count == 0 {
		return Entry{}, errs.New(errs.KindValidationFailed, "ranked list is empty")
	}
	rank := int64(math.Ceil(p * float64(count)))
	if rank < 1 {
		rank = 1
	}
	if rank > count {
		rank = count
	}
	return l.byAscendingRank(ctx, tx, rank)
}
