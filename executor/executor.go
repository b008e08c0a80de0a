// Package executor runs a planner.Plan against a live transaction (spec
// §4.10): one function per operator kind, mirroring the way package index
// dispatches one Maintainer per index kind from a sealed switch.
package executor

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/planner"
)

// Item is one result row flowing through the operator tree.
type Item struct {
	ID []byte

	// Record is the decoded application record, populated whenever the
	// producing plan node has FetchRecords set. Filter and Sort require it;
	// a pure id-covering read (e.g. an Intersection child) leaves it nil.
	Record any
}

// RecordFetcher loads the full application record for a primary-key id.
// The executor never decodes record bytes itself — that is the engine
// layer's job, layering record.Decode and the application's own payload
// deserialization on top of a raw kv.Tx.Get (spec §4.3) — so Execute takes
// this as a dependency rather than importing package record directly.
type RecordFetcher func(ctx context.Context, tx kv.Tx, idKey []byte) (any, error)

// Env bundles everything an operator needs beyond the plan node and the
// live transaction.
type Env struct {
	Sub     directory.Subspace
	VT      *model.TypeVTable
	Indexes map[string]catalog.IndexDescriptor
	Fetch   RecordFetcher
}

func (e Env) index(name string) (catalog.IndexDescriptor, error) {
	idx, ok := e.Indexes[name]
	if !ok {
		return catalog.IndexDescriptor{}, errs.Newf(errs.KindInvalidQuery, "plan references unknown index %q", name)
	}
	return idx, nil
}

// Execute runs plan to completion, recursing into children as plan.Kind
// dictates, and returns its result rows (spec §4.10).
func Execute(ctx context.Context, tx kv.Tx, plan *planner.Plan, env Env) ([]Item, error) {
	switch plan.Kind {
	case planner.KindFullScan:
		return execFullScan(ctx, tx, plan, env)
	case planner.KindIndexSeek:
		return execIndexSeek(ctx, tx, plan, env)
	case planner.KindIndexScan:
		return execIndexScan(ctx, tx, plan, env)
	case planner.KindUnion:
		return execUnion(ctx, tx, plan, env)
	case planner.KindIntersection:
		return execIntersection(ctx, tx, plan, env)
	case planner.KindFilter:
		return execFilter(ctx, tx, plan, env)
	case planner.KindSort:
		return execSort(ctx, tx, plan, env)
	case planner.KindLimit:
		return execLimit(ctx, tx, plan, env)
	case planner.KindFullTextScan:
		return execFullTextScan(ctx, tx, plan, env)
	case planner.KindVectorSearch:
		return execVectorSearch(ctx, tx, plan, env)
	case planner.KindSpatialScan:
		return execSpatialScan(ctx, tx, plan, env)
	case planner.KindAggregation:
		return execAggregation(ctx, tx, plan, env)
	default:
		return nil, errs.Newf(errs.KindInvalidQuery, "unsupported plan operator %q", plan.Kind)
	}
}

func execChild(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env, idx int) ([]Item, error) {
	return Execute(ctx, tx, p.Children[idx], env)
}

// fetchIfNeeded resolves items' Record fields via env.Fetch when the
// producing plan node requested it.
func fetchIfNeeded(ctx context.Context, tx kv.Tx, fetch bool, env Env, items []Item) ([]Item, error) {
	if !fetch || env.Fetch == nil {
		return items, nil
	}
	for i := range items {
		rec, err := env.Fetch(ctx, tx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Record = rec
	}
	return items, nil
}
