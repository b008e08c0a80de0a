package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/index"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/tuple"
)

func TestExecAggregationReadsCount(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "east", total: 20},
		{id: "o3", region: "west", total: 30},
	})
	countIdx := catalog.IndexDescriptor{Name: "Order_region_count", Kind: catalog.IndexCount, KeyPaths: []string{"region"}}
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		m := &index.CountMaintainer{}
		for id, o := range f.byID {
			if err := m.Update(ctx, tx, f.sub, countIdx, f.vt, []byte(id), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	f.env.Indexes[countIdx.Name] = countIdx

	p := &planner.Plan{
		Kind:        planner.KindAggregation,
		Index:       countIdx.Name,
		Aggregation: &planner.AggregationConstraint{Group: []tuple.Value{tuple.StringVal("east")}},
	}
	items := f.run(t, p)
	require.Len(t, items, 1)
	require.Equal(t, int64(2), items[0].Record)
}
