package executor

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/index/spatial"
	"github.com/ixdb/ixdb/index/text"
	"github.com/ixdb/ixdb/index/vector"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
)

// execFullTextScan dispatches to the inverted-text maintainer's query side
// (spec §4.10 "FullTextScan... dispatch to the specialized maintainer's
// query side"), combining per-term postings by the constraint's mode.
func execFullTextScan(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	if p.Text == nil || len(p.Text.Terms) == 0 {
		return nil, errs.New(errs.KindInvalidQuery, "full-text scan plan has no terms")
	}

	var ids mapset.Set[string]
	for _, term := range p.Text.Terms {
		postings, err := text.PostingIDs(ctx, tx, env.Sub, idx, term)
		if err != nil {
			return nil, err
		}
		termSet := mapset.NewThreadUnsafeSet[string]()
		for _, id := range postings {
			termSet.Add(string(id))
		}
		switch {
		case ids == nil:
			ids = termSet
		case p.Text.Mode == planner.TextModeOr:
			ids = ids.Union(termSet)
		default: // planner.TextModeAnd, and the zero value
			ids = ids.Intersect(termSet)
		}
	}

	var out []Item
	for _, key := range ids.ToSlice() {
		out = append(out, Item{ID: []byte(key)})
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}

// execVectorSearch dispatches to the vector maintainer's approximate
// nearest-neighbor search (spec §4.10 "VectorSearch... dispatch to the
// specialized maintainer's query side").
func execVectorSearch(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	if p.Vector == nil {
		return nil, errs.New(errs.KindInvalidQuery, "vector search plan has no query vector")
	}
	ids, err := vector.Search(ctx, tx, env.Sub, idx, p.Vector.Query, p.Vector.K)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, Item{ID: id})
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}

// execSpatialScan dispatches to the spatial maintainer's covering-cell
// query (spec §4.10 "SpatialScan... dispatch to the specialized
// maintainer's query side").
func execSpatialScan(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	if p.Spatial == nil {
		return nil, errs.New(errs.KindInvalidQuery, "spatial scan plan has no query point")
	}
	ids, err := spatial.QueryCell(ctx, tx, env.Sub, idx, p.Spatial.Level, p.Spatial.Lat, p.Spatial.Lon)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, Item{ID: id})
	}
	return fetchIfNeeded(ctx, tx, p.FetchRecords, env, out)
}
