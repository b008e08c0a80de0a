package executor

import (
	"context"
	"path"
	"sort"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/tuple"
)

// execFilter applies plan.PostFilter to its single child's output (spec
// §4.10 "Filter: apply predicate to each item; ordered pass-through").
// Used for the leftover predicates an Intersection's chosen indexes didn't
// cover; leaf operators (FullScan/IndexSeek/IndexScan) apply their own
// PostFilter inline instead of going through a separate node.
func execFilter(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	in, err := execChild(ctx, tx, p, env, 0)
	if err != nil {
		return nil, err
	}
	out := in[:0]
	for _, item := range in {
		keep, err := evalAll(item.Record, env, p.PostFilter)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, item)
		}
	}
	return out, nil
}

// execSort buffers its child's full output and sorts it in memory, stably,
// by plan.SortKeys (spec §4.10 "Sort: buffer input, sort in memory by the
// descriptor; stable").
func execSort(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	in, err := execChild(ctx, tx, p, env, 0)
	if err != nil {
		return nil, err
	}
	var sortErr error
	sort.SliceStable(in, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		less, err := lessItems(in[i], in[j], env, p.SortKeys)
		if err != nil {
			sortErr = err
			return false
		}
		return less
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return in, nil
}

func lessItems(a, b Item, env Env, keys []planner.SortKey) (bool, error) {
	for _, k := range keys {
		av, aok, err := env.VT.GetPath(a.Record, k.Field)
		if err != nil {
			return false, err
		}
		bv, bok, err := env.VT.GetPath(b.Record, k.Field)
		if err != nil {
			return false, err
		}
		if !aok || !bok {
			continue
		}
		lt, err := tuple.Less(av, bv)
		if err != nil {
			return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing sort key")
		}
		if lt {
			return !k.Descending, nil
		}
		gt, err := tuple.Less(bv, av)
		if err != nil {
			return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing sort key")
		}
		if gt {
			return k.Descending, nil
		}
	}
	return false, nil
}

// execLimit drops plan.Offset rows then takes plan.Limit (spec §4.10
// "Limit: drop offset, take limit").
func execLimit(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	in, err := execChild(ctx, tx, p, env, 0)
	if err != nil {
		return nil, err
	}
	if p.Offset > 0 {
		if p.Offset >= len(in) {
			return nil, nil
		}
		in = in[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(in) {
		in = in[:p.Limit]
	}
	return in, nil
}

// evalAll reports whether rec satisfies every predicate (conjunction).
func evalAll(rec any, env Env, preds []planner.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := evalPredicate(rec, env, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalPredicate evaluates one analyzed constraint against a fetched
// record. Text/spatial/vector constraints are never left as post-filters
// (they are always the whole plan via FullTextScan/VectorSearch/
// SpatialScan), so they fall through to the default true here.
func evalPredicate(rec any, env Env, p planner.Predicate) (bool, error) {
	switch p.Op {
	case planner.OpEq:
		v, ok, err := env.VT.GetPath(rec, p.Field)
		if err != nil || !ok {
			return false, err
		}
		eq, err := valuesEqual(v, p.Eq)
		return eq, err
	case planner.OpNeq:
		v, ok, err := env.VT.GetPath(rec, p.Field)
		if err != nil || !ok {
			return true, err
		}
		eq, err := valuesEqual(v, p.Eq)
		return !eq, err
	case planner.OpIn:
		v, ok, err := env.VT.GetPath(rec, p.Field)
		if err != nil || !ok {
			return false, err
		}
		for _, cand := range p.In {
			eq, err := valuesEqual(v, cand)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case planner.OpRange:
		v, ok, err := env.VT.GetPath(rec, p.Field)
		if err != nil || !ok {
			return false, err
		}
		return inRange(v, p)
	case planner.OpNull:
		_, ok, err := env.VT.GetPath(rec, p.Field)
		return !ok, err
	case planner.OpNotNull:
		_, ok, err := env.VT.GetPath(rec, p.Field)
		return ok, err
	case planner.OpPattern:
		v, ok, err := env.VT.GetPath(rec, p.Field)
		if err != nil || !ok || v.Kind != tuple.KindString {
			return false, err
		}
		matched, err := path.Match(p.Pattern, v.Str)
		if err != nil {
			return false, errs.Wrap(errs.KindInvalidQuery, err, "invalid pattern")
		}
		return matched, nil
	default:
		return true, nil
	}
}

func valuesEqual(a, b tuple.Value) (bool, error) {
	lt, err := tuple.Less(a, b)
	if err != nil {
		return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing predicate value")
	}
	if lt {
		return false, nil
	}
	gt, err := tuple.Less(b, a)
	if err != nil {
		return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing predicate value")
	}
	return !gt, nil
}

func inRange(v tuple.Value, p planner.Predicate) (bool, error) {
	if p.Low.Kind != tuple.KindNull {
		lt, err := tuple.Less(v, p.Low)
		if err != nil {
			return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing range bound")
		}
		if lt {
			return false, nil
		}
		if !p.LowInclusive {
			eq, err := valuesEqual(v, p.Low)
			if err != nil {
				return false, err
			}
			if eq {
				return false, nil
			}
		}
	}
	if p.High.Kind != tuple.KindNull {
		lt, err := tuple.Less(v, p.High)
		if err != nil {
			return false, errs.Wrap(errs.KindInvalidQuery, err, "comparing range bound")
		}
		if !lt {
			if p.HighInclusive {
				eq, err := valuesEqual(v, p.High)
				if err != nil {
					return false, err
				}
				return eq, nil
			}
			return false, nil
		}
	}
	return true, nil
}
