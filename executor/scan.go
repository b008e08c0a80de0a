package executor

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/tuple"
)

// execFullScan walks every record under the type's record prefix, applying
// the plan's own PostFilter as it goes (spec §4.10 "IndexSeek: point get
// per seek value... Filter: apply predicate to each item").
func execFullScan(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	prefix := env.Sub.RecordPrefix(env.VT.TypeName)
	it, err := tx.GetRange(ctx, prefix, directory.RangeEnd(prefix), false, 0, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning records")
	}
	defer it.Close()

	var out []Item
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "iterating record scan")
		}
		if !ok {
			break
		}
		id := append([]byte{}, kvpair.Key[len(prefix):]...)
		rec, err := env.Fetch(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		keep, err := evalAll(rec, env, p.PostFilter)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, Item{ID: id, Record: rec})
		}
	}
	return out, nil
}

// execIndexSeek does one point lookup per plan.SeekKeys entry (spec §4.10
// "IndexSeek: point get per seek value"), then fetches records unless the
// index already covers every referenced field.
func execIndexSeek(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	prefix := env.Sub.IndexPrefix(idx.Name)

	var out []Item
	for _, seek := range p.SeekKeys {
		valueTuple, err := tuple.Encode(nil, seek...)
		if err != nil {
			return nil, errs.Wrap(errs.KindTupleEncoding, err, "encoding seek key")
		}
		begin := append(append([]byte{}, prefix...), valueTuple...)
		end := directory.RangeEnd(begin)
		it, err := tx.GetRange(ctx, begin, end, false, 0, false)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "seeking index entries")
		}
		items, err := drainEntries(ctx, it, prefix, idx)
		it.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}

// execIndexScan reads idx's byte range [low, high) computed from the
// matched equality prefix plus the range bound on the next key-path (spec
// §4.10 "IndexScan: getRange with the computed byte-lexicographic bounds").
func execIndexScan(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	prefix := env.Sub.IndexPrefix(idx.Name)

	prefixTuple, err := tuple.Encode(nil, p.RangePrefix...)
	if err != nil {
		return nil, errs.Wrap(errs.KindTupleEncoding, err, "encoding range prefix")
	}
	base := append(append([]byte{}, prefix...), prefixTuple...)

	begin, err := boundBytes(base, p.RangeLow, p.LowInclusive, true)
	if err != nil {
		return nil, err
	}
	end, err := boundBytes(base, p.RangeHigh, p.HighInclusive, false)
	if err != nil {
		return nil, err
	}

	it, err := tx.GetRange(ctx, begin, end, false, 0, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning index range")
	}
	items, err := drainEntries(ctx, it, prefix, idx)
	it.Close()
	if err != nil {
		return nil, err
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, items)
}

// boundBytes turns one open/closed range endpoint into a concrete byte
// bound. A null v means the bound is unset (scan to the prefix's natural
// edge). isLow controls which direction an exclusive bound nudges: an
// exclusive low bound starts just after v's encoding; an inclusive high
// bound ends just after v's encoding.
func boundBytes(base []byte, v tuple.Value, inclusive bool, isLow bool) ([]byte, error) {
	if v.Kind == tuple.KindNull {
		if isLow {
			return base, nil
		}
		return directory.RangeEnd(base), nil
	}
	enc, err := tuple.Encode(nil, v)
	if err != nil {
		return nil, errs.Wrap(errs.KindTupleEncoding, err, "encoding range bound")
	}
	b := append(append([]byte{}, base...), enc...)
	if isLow && !inclusive {
		return directory.RangeEnd(b), nil
	}
	if !isLow && inclusive {
		return directory.RangeEnd(b), nil
	}
	return b, nil
}

// drainEntries reads every index entry under it. Each key is
// indexPrefix+keyPathTuple+id (spec §4.5's indexEntryKey layout): the
// key-path tuple is self-delimiting (tuple.DecodePrefix), so whatever
// bytes remain after decoding exactly len(idx.KeyPaths) values is the id,
// regardless of how much of the composite key the scan actually bounded.
func drainEntries(ctx context.Context, it kv.Iterator, indexPrefix []byte, idx catalog.IndexDescriptor) ([]Item, error) {
	var out []Item
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "iterating index entries")
		}
		if !ok {
			break
		}
		rest := kvpair.Key[len(indexPrefix):]
		_, id, err := tuple.DecodePrefix(rest, len(idx.KeyPaths))
		if err != nil {
			return nil, errs.Wrap(errs.KindTupleEncoding, err, "splitting index entry key")
		}
		out = append(out, Item{ID: append([]byte{}, id...)})
	}
	return out, nil
}
