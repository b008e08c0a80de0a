package index

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"math"
	"sort"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// groupTuple encodes an aggregate's group-by fields (desc.KeyPaths) from a
// record, the same way keyPathValues does for an ordinary index — an
// aggregate's KeyPaths name the grouping dimension, not a sort key.
func groupTuple(vt *model.TypeVTable, desc catalog.IndexDescriptor, rec any) ([]byte, bool, error) {
	return keyPathValues(vt, desc, rec)
}

// aggregatedField resolves the field an aggregate reduces over from
// desc.Options["field"]; Count needs none.
func aggregatedField(desc catalog.IndexDescriptor) (string, error) {
	f, _ := desc.Options["field"].(string)
	if f == "" {
		return "", errs.Newf(errs.KindInvalidQuery, "aggregate index %q has no options.field", desc.Name)
	}
	return f, nil
}

func aggKey(sub directory.Subspace, desc catalog.IndexDescriptor, group []byte, stat string) []byte {
	prefix := sub.IndexPrefix(desc.Name)
	out := make([]byte, 0, len(prefix)+len(group)+1+len(stat))
	out = append(out, prefix...)
	out = append(out, group...)
	out = append(out, 0x00)
	return append(out, stat...)
}

func be8(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func negate(v int64) int64 { return -v }

// orderedNumericBytes returns the 8-byte order-preserving encoding of an
// int or float value (the same bytes tuple.Encode produces after its
// 1-byte kind tag), usable directly as an AtomicOp(OpMin/OpMax) operand
// since that encoding is constructed so big-endian unsigned comparison
// matches numeric comparison.
func orderedNumericBytes(v tuple.Value) ([]byte, error) {
	enc, err := tuple.Encode(nil, v)
	if err != nil {
		return nil, err
	}
	if len(enc) != 9 {
		return nil, errs.New(errs.KindUnsupportedType, "aggregate field is not a numeric value")
	}
	return enc[1:], nil
}

// numericDelta extracts an int64 delta from a tuple value for Sum/Average,
// supporting only integer fields: the KV store's atomic add operates on
// raw byte strings, which only commutes correctly with two's-complement
// integer addition, not IEEE-754 floats (spec §4.7 — matching the external
// store's own atomic-add contract, which is integer-only).
func numericDelta(v tuple.Value) (int64, error) {
	if v.Kind != tuple.KindInt {
		return 0, errs.Newf(errs.KindUnsupportedType, "sum/average aggregates require an integer field, got kind %d", v.Kind)
	}
	return v.Int, nil
}

// CountMaintainer implements the Count index kind: a per-group atomic
// counter, incremented on insert and decremented on delete.
type CountMaintainer struct{}

func (m *CountMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	oldGroup, oldPresent, err := groupTuple(vt, desc, old)
	if err != nil {
		return err
	}
	newGroup, newPresent, err := groupTuple(vt, desc, new)
	if err != nil {
		return err
	}
	if oldPresent && (!newPresent || string(oldGroup) != string(newGroup)) {
		if err := tx.AtomicOp(ctx, aggKey(sub, desc, oldGroup, "c"), be8(-1), kv.OpAdd); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "decrementing count aggregate")
		}
	}
	if newPresent && (!oldPresent || string(oldGroup) != string(newGroup)) {
		if err := tx.AtomicOp(ctx, aggKey(sub, desc, newGroup, "c"), be8(1), kv.OpAdd); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "incrementing count aggregate")
		}
	}
	return nil
}

func (m *CountMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *CountMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, "c")}, nil
}

// Read returns the current count for rec's group.
func (m *CountMaintainer) Read(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, group []byte) (int64, error) {
	raw, err := tx.Get(ctx, aggKey(sub, desc, group, "c"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading count aggregate")
	}
	if raw == nil {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// SumMaintainer implements the Sum index kind over an integer field.
type SumMaintainer struct{}

func (m *SumMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	field, err := aggregatedField(desc)
	if err != nil {
		return err
	}
	if old != nil {
		group, present, err := groupTuple(vt, desc, old)
		if err != nil {
			return err
		}
		if present {
			v, ok, err := vt.Get(old, field)
			if err != nil {
				return err
			}
			if ok {
				delta, err := numericDelta(v)
				if err != nil {
					return err
				}
				if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, "s"), be8(negate(delta)), kv.OpAdd); err != nil {
					return errs.Wrap(errs.KindNonRetryableKV, err, "subtracting from sum aggregate")
				}
			}
		}
	}
	if new != nil {
		group, present, err := groupTuple(vt, desc, new)
		if err != nil {
			return err
		}
		if present {
			v, ok, err := vt.Get(new, field)
			if err != nil {
				return err
			}
			if ok {
				delta, err := numericDelta(v)
				if err != nil {
					return err
				}
				if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, "s"), be8(delta), kv.OpAdd); err != nil {
					return errs.Wrap(errs.KindNonRetryableKV, err, "adding to sum aggregate")
				}
			}
		}
	}
	return nil
}

func (m *SumMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *SumMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, "s")}, nil
}

func (m *SumMaintainer) Read(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, group []byte) (int64, error) {
	raw, err := tx.Get(ctx, aggKey(sub, desc, group, "s"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading sum aggregate")
	}
	if raw == nil {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// AverageMaintainer implements the Average index kind as a (sum, count)
// pair of atomic adds; the quotient is computed at read time.
type AverageMaintainer struct{}

func (m *AverageMaintainer) apply(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, field string, rec any, sign int64) error {
	if rec == nil {
		return nil
	}
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return err
	}
	v, ok, err := vt.Get(rec, field)
	if err != nil || !ok {
		return err
	}
	delta, err := numericDelta(v)
	if err != nil {
		return err
	}
	if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, "as"), be8(sign*delta), kv.OpAdd); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "updating average sum")
	}
	if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, "ac"), be8(sign), kv.OpAdd); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "updating average count")
	}
	return nil
}

func (m *AverageMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	field, err := aggregatedField(desc)
	if err != nil {
		return err
	}
	if err := m.apply(ctx, tx, sub, desc, vt, field, old, -1); err != nil {
		return err
	}
	return m.apply(ctx, tx, sub, desc, vt, field, new, 1)
}

func (m *AverageMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *AverageMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, "as"), aggKey(sub, desc, group, "ac")}, nil
}

func (m *AverageMaintainer) Read(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, group []byte) (float64, error) {
	sumBytes, err := tx.Get(ctx, aggKey(sub, desc, group, "as"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading average sum")
	}
	countBytes, err := tx.Get(ctx, aggKey(sub, desc, group, "ac"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading average count")
	}
	if countBytes == nil {
		return 0, nil
	}
	count := int64(binary.BigEndian.Uint64(countBytes))
	if count == 0 {
		return 0, nil
	}
	sum := int64(0)
	if sumBytes != nil {
		sum = int64(binary.BigEndian.Uint64(sumBytes))
	}
	return float64(sum) / float64(count), nil
}

// MinMaintainer and MaxMaintainer implement the Min/Max index kinds: an
// atomic OpMin/OpMax on insert; delete is only possible when
// desc.Options["backing_index"] names another Ordered index sharing this
// aggregate's group-by prefix plus the aggregated field, which is
// rescanned to find the new extremum.
type extremumMaintainer struct {
	op  kv.AtomicOp
	max bool
}

func MinMaintainer() Maintainer { return &extremumMaintainer{op: kv.OpMin, max: false} }
func MaxMaintainer() Maintainer { return &extremumMaintainer{op: kv.OpMax, max: true} }

func (m *extremumMaintainer) stat() string {
	if m.max {
		return "mx"
	}
	return "mn"
}

func (m *extremumMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	field, err := aggregatedField(desc)
	if err != nil {
		return err
	}
	if new != nil {
		if err := m.insert(ctx, tx, sub, desc, vt, field, new); err != nil {
			return err
		}
	}
	if old != nil && new == nil {
		if err := m.delete(ctx, tx, sub, desc, vt, field, old); err != nil {
			return err
		}
	}
	return nil
}

func (m *extremumMaintainer) insert(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, field string, rec any) error {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return err
	}
	v, ok, err := vt.Get(rec, field)
	if err != nil || !ok {
		return err
	}
	enc, err := orderedNumericBytes(v)
	if err != nil {
		return err
	}
	if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, m.stat()), enc, m.op); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "updating extremum aggregate")
	}
	return nil
}

func (m *extremumMaintainer) delete(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, field string, rec any) error {
	backingName, _ := desc.Options["backing_index"].(string)
	if backingName == "" {
		return errs.New(errs.KindUnsupportedAggregationDelete, "min/max delete requires options.backing_index naming a value-ordered index")
	}
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return err
	}
	removed, ok, err := vt.Get(rec, field)
	if err != nil || !ok {
		return err
	}
	removedEnc, err := orderedNumericBytes(removed)
	if err != nil {
		return err
	}
	current, err := tx.Get(ctx, aggKey(sub, desc, group, m.stat()), false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "reading extremum aggregate")
	}
	if current != nil && string(current) != string(removedEnc) {
		return nil // removed value was not the extremum; nothing to recompute
	}

	prefix := append(sub.IndexPrefix(backingName), group...)
	end := directory.RangeEnd(prefix)
	it, err := tx.GetRange(ctx, prefix, end, m.max, 1, false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "rescanning backing index")
	}
	defer it.Close()
	kvpair, ok, err := it.Next(ctx)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "reading backing index entry")
	}
	aggregateKey := aggKey(sub, desc, group, m.stat())
	if !ok {
		return tx.Clear(ctx, aggregateKey)
	}
	// The suffix after prefix is the backing index's remaining value-tuple
	// field(s) followed by the id key; only the first decoded value (the
	// aggregated field itself) is wanted here.
	valueTuple := kvpair.Key[len(prefix):]
	vals, err := tuple.Decode(valueTuple)
	if err != nil || len(vals) == 0 {
		return errs.Wrap(errs.KindTupleEncoding, err, "decoding backing index entry")
	}
	newExtremum, err := orderedNumericBytes(vals[0])
	if err != nil {
		return err
	}
	return tx.Set(ctx, aggregateKey, newExtremum)
}

func (m *extremumMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *extremumMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, m.stat())}, nil
}

// DistinctMaintainer implements the Distinct index kind: a HyperLogLog-
// family sketch of fixed-size byte registers, merged atomically via
// bit-or so concurrent inserts never conflict on the sketch key.
type DistinctMaintainer struct{}

const (
	hllRegisterBits = 10 // 1024 registers
	hllRegisterCount = 1 << hllRegisterBits
)

var hllSeed = maphash.MakeSeed()

func hllHash(b []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(hllSeed)
	_, _ = h.Write(b)
	return h.Sum64()
}

// hllUpdateOr builds the single-register bit-or payload for one observed
// hash: a full-sketch-sized buffer with every byte zero except the
// observed register, which holds the new rank as a run of its low `rank`
// 1-bits (unary-style; a byte register holds at most 8). Since OpBitOr
// only ORs bits, "OR in a larger rank" subsumes "OR in a smaller one", so
// the stored register keeps the max rank seen without a read — this sketch trades a little precision
// for being entirely write-only on the insert path, matching spec's "bit-
// or merge" requirement.
func hllUpdateOr(item []byte) []byte {
	h := hllHash(item)
	reg := h & (hllRegisterCount - 1)
	rest := h >> hllRegisterBits
	rank := 1
	for rest != 0 && rest&1 == 0 && rank < 63 {
		rank++
		rest >>= 1
	}
	buf := make([]byte, hllRegisterCount)
	buf[reg] = byte(1<<uint(rank) - 1) // low `rank` bits set
	return buf
}

func (m *DistinctMaintainer) apply(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, field string, rec any) error {
	if rec == nil {
		return nil
	}
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return err
	}
	v, ok, err := vt.Get(rec, field)
	if err != nil || !ok {
		return nil
	}
	enc, err := tuple.Encode(nil, v)
	if err != nil {
		return err
	}
	if err := tx.AtomicOp(ctx, aggKey(sub, desc, group, "hll"), hllUpdateOr(enc), kv.OpBitOr); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "merging distinct sketch")
	}
	return nil
}

// Update only merges on insert: HyperLogLog-family sketches are not
// decrementable, so deletes are intentionally ignored (the estimate is a
// monotonic upper bound across the group's lifetime).
func (m *DistinctMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	if new == nil {
		return nil
	}
	field, err := aggregatedField(desc)
	if err != nil {
		return err
	}
	return m.apply(ctx, tx, sub, desc, vt, field, new)
}

func (m *DistinctMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *DistinctMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, "hll")}, nil
}

// Estimate returns the cardinality estimate from the stored sketch
// (standard HyperLogLog harmonic-mean estimator with small-range
// correction).
func (m *DistinctMaintainer) Estimate(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, group []byte) (float64, error) {
	raw, err := tx.Get(ctx, aggKey(sub, desc, group, "hll"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading distinct sketch")
	}
	if raw == nil {
		return 0, nil
	}
	m_ := float64(hllRegisterCount)
	sumInv := 0.0
	zeros := 0
	for _, b := range raw {
		rank := bitsLen(b)
		sumInv += math.Pow(2, -float64(rank))
		if rank == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m_)
	estimate := alpha * m_ * m_ / sumInv
	if estimate <= 2.5*m_ && zeros > 0 {
		estimate = m_ * math.Log(m_/float64(zeros))
	}
	return estimate, nil
}

func bitsLen(b byte) int {
	n := 0
	for b != 0 {
		n++
		b >>= 1
	}
	return n
}

// PercentileMaintainer implements the Percentile index kind as a bounded
// t-digest-family sketch: a JSON-free, fixed-capacity sorted list of
// (mean, count) centroids, read-modify-written under a write conflict on
// each update (spec §4.7: "updates are read-modify-write with a write
// conflict").
type PercentileMaintainer struct {
	// Capacity bounds the number of centroids retained; exceeding it merges
	// the two nearest centroids by mean. Zero uses DefaultDigestCapacity.
	Capacity int
}

const DefaultDigestCapacity = 64

type digestCentroid struct {
	Mean  float64
	Count int64
}

func (m *PercentileMaintainer) capacity() int {
	if m.Capacity > 0 {
		return m.Capacity
	}
	return DefaultDigestCapacity
}

func encodeDigest(centroids []digestCentroid) []byte {
	buf := make([]byte, 4, 4+len(centroids)*16)
	binary.BigEndian.PutUint32(buf, uint32(len(centroids)))
	for _, c := range centroids {
		b := make([]byte, 16)
		binary.BigEndian.PutUint64(b[0:8], math.Float64bits(c.Mean))
		binary.BigEndian.PutUint64(b[8:16], uint64(c.Count))
		buf = append(buf, b...)
	}
	return buf
}

func decodeDigest(raw []byte) []digestCentroid {
	if len(raw) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	out := make([]digestCentroid, 0, n)
	for i := uint32(0); i < n && len(raw) >= 16; i++ {
		mean := math.Float64frombits(binary.BigEndian.Uint64(raw[0:8]))
		count := int64(binary.BigEndian.Uint64(raw[8:16]))
		out = append(out, digestCentroid{Mean: mean, Count: count})
		raw = raw[16:]
	}
	return out
}

func (m *PercentileMaintainer) mergeOne(centroids []digestCentroid, x float64) []digestCentroid {
	centroids = append(centroids, digestCentroid{Mean: x, Count: 1})
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].Mean < centroids[j].Mean })
	for len(centroids) > m.capacity() {
		minGap := math.Inf(1)
		at := 0
		for i := 0; i+1 < len(centroids); i++ {
			gap := centroids[i+1].Mean - centroids[i].Mean
			if gap < minGap {
				minGap = gap
				at = i
			}
		}
		a, b := centroids[at], centroids[at+1]
		merged := digestCentroid{
			Mean:  (a.Mean*float64(a.Count) + b.Mean*float64(b.Count)) / float64(a.Count+b.Count),
			Count: a.Count + b.Count,
		}
		centroids = append(centroids[:at], append([]digestCentroid{merged}, centroids[at+2:]...)...)
	}
	return centroids
}

func (m *PercentileMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	if new == nil {
		return nil // deletes are not retracted from the sketch, matching HLL's monotonic-estimate tradeoff
	}
	field, err := aggregatedField(desc)
	if err != nil {
		return err
	}
	group, present, err := groupTuple(vt, desc, new)
	if err != nil || !present {
		return err
	}
	v, ok, err := vt.Get(new, field)
	if err != nil || !ok {
		return nil
	}
	var x float64
	switch v.Kind {
	case tuple.KindInt:
		x = float64(v.Int)
	case tuple.KindFloat, tuple.KindTimestamp:
		x = v.Float
	default:
		return errs.New(errs.KindUnsupportedType, "percentile aggregates require a numeric field")
	}

	key := aggKey(sub, desc, group, "td")
	if err := tx.AddConflictRange(key, append(append([]byte{}, key...), 0x00), kv.ConflictWrite); err != nil {
		return err
	}
	raw, err := tx.Get(ctx, key, false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "reading percentile digest")
	}
	centroids := m.mergeOne(decodeDigest(raw), x)
	return tx.Set(ctx, key, encodeDigest(centroids))
}

func (m *PercentileMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *PercentileMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	group, present, err := groupTuple(vt, desc, rec)
	if err != nil || !present {
		return nil, err
	}
	return [][]byte{aggKey(sub, desc, group, "td")}, nil
}

// Quantile returns the approximate value at quantile p (0..1) from the
// stored digest.
func (m *PercentileMaintainer) Quantile(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, group []byte, p float64) (float64, error) {
	raw, err := tx.Get(ctx, aggKey(sub, desc, group, "td"), false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading percentile digest")
	}
	centroids := decodeDigest(raw)
	if len(centroids) == 0 {
		return 0, errs.New(errs.KindValidationFailed, "percentile digest is empty")
	}
	var total int64
	for _, c := range centroids {
		total += c.Count
	}
	target := p * float64(total)
	var cum float64
	for _, c := range centroids {
		cum += float64(c.Count)
		if cum >= target {
			return c.Mean, nil
		}
	}
	return centroids[len(centroids)-1].Mean, nil
}
