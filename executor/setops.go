package executor

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
)

// execUnion runs every child concurrently and merges their output with a
// hash-set on id, dropping duplicates (spec §4.10 "Union: execute children
// in parallel task pool; merge results with a hash-set on id"). Any
// child's error cancels its siblings via the errgroup's shared context.
//
// Children here only ever read (Get/GetRange); no operator in this package
// issues a write, so concurrent goroutines sharing tx are safe for any
// backend whose read-only transactions tolerate concurrent readers
// (kvbolt's bbolt-backed transactions do).
func execUnion(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	results := make([][]Item, len(p.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range p.Children {
		i, child := i, child
		g.Go(func() error {
			items, err := Execute(gctx, tx, child, env)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	var out []Item
	for _, items := range results {
		for _, item := range items {
			key := string(item.ID)
			if seen.Contains(key) {
				continue
			}
			seen.Add(key)
			out = append(out, item)
		}
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}

// execIntersection runs every child concurrently, intersects their id
// sets, then fetches full records for the surviving ids (spec §4.10
// "Intersection: execute children, collect id sets, intersect, then fetch
// records").
func execIntersection(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	results := make([][]Item, len(p.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range p.Children {
		i, child := i, child
		g.Go(func() error {
			items, err := Execute(gctx, tx, child, env)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	byID := map[string]Item{}
	var ids mapset.Set[string]
	for _, items := range results {
		cur := mapset.NewThreadUnsafeSet[string]()
		for _, item := range items {
			key := string(item.ID)
			cur.Add(key)
			if _, ok := byID[key]; !ok {
				byID[key] = item
			}
		}
		if ids == nil {
			ids = cur
		} else {
			ids = ids.Intersect(cur)
		}
	}

	out := make([]Item, 0, ids.Cardinality())
	for _, key := range ids.ToSlice() {
		out = append(out, byID[key])
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}
