package executor

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/index"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/tuple"
)

// execAggregation reads an aggregate index's current value for one group
// (spec §4.10 "Aggregation: dispatch to the specialized maintainer's query
// side"). The result is a single Item whose ID is the encoded group and
// whose Record is the aggregate's value (int64, float64, a
// []ranklist.Entry for Leaderboard and Ranked TopK, or a single
// ranklist.Entry for a Ranked ByRank lookup).
func execAggregation(ctx context.Context, tx kv.Tx, p *planner.Plan, env Env) ([]Item, error) {
	idx, err := env.index(p.Index)
	if err != nil {
		return nil, err
	}
	if p.Aggregation == nil {
		return nil, errs.New(errs.KindInvalidQuery, "aggregation plan has no group")
	}
	group, err := tuple.Encode(nil, p.Aggregation.Group...)
	if err != nil {
		return nil, errs.Wrap(errs.KindTupleEncoding, err, "encoding aggregation group")
	}

	var value any
	switch idx.Kind {
	case catalog.IndexCount:
		value, err = (&index.CountMaintainer{}).Read(ctx, tx, env.Sub, idx, group)
	case catalog.IndexSum:
		value, err = (&index.SumMaintainer{}).Read(ctx, tx, env.Sub, idx, group)
	case catalog.IndexAverage:
		value, err = (&index.AverageMaintainer{}).Read(ctx, tx, env.Sub, idx, group)
	case catalog.IndexDistinct:
		value, err = (&index.DistinctMaintainer{}).Estimate(ctx, tx, env.Sub, idx, group)
	case catalog.IndexPercentile:
		value, err = (&index.PercentileMaintainer{}).Quantile(ctx, tx, env.Sub, idx, group, p.Aggregation.Percentile)
	case catalog.IndexRanked:
		value, err = rankedValue(ctx, tx, idx, env, p.Aggregation, group)
	case catalog.IndexLeaderboard:
		value, err = (&index.LeaderboardMaintainer{}).TopKInWindowByGroup(ctx, tx, env.Sub, idx, group, p.Aggregation.WindowTimestamp, p.Aggregation.TopK)
	default:
		return nil, errs.Newf(errs.KindInvalidQuery, "index kind %v is not an aggregation", idx.Kind)
	}
	if err != nil {
		return nil, err
	}
	return []Item{{ID: group, Record: value}}, nil
}

// rankedValue picks TopK vs ByRank depending on which the caller asked
// for: a non-nil Rank selects a single ByRank lookup, otherwise TopK.
func rankedValue(ctx context.Context, tx kv.Tx, idx catalog.IndexDescriptor, env Env, agg *planner.AggregationConstraint, group []byte) (any, error) {
	m := &index.RankedMaintainer{}
	if agg.Rank != nil {
		return m.ByRankByGroup(ctx, tx, env.Sub, idx, group, *agg.Rank)
	}
	return m.TopKByGroup(ctx, tx, env.Sub, idx, group, agg.TopK)
}
