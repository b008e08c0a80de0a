package index

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/kv/kvbolt"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

type order struct {
	id     string
	region string
	total  int64
}

func orderVTable() *model.TypeVTable {
	return model.NewTypeVTable("Order", "id",
		model.FieldEntry{Name: "id", Extract: func(r any) (tuple.Value, bool) {
			o, ok := r.(*order)
			if !ok || o == nil {
				return tuple.Value{}, false
			}
			return tuple.StringVal(o.id), true
		}},
		model.FieldEntry{Name: "region", Extract: func(r any) (tuple.Value, bool) {
			o, ok := r.(*order)
			if !ok || o == nil {
				return tuple.Value{}, false
			}
			return tuple.StringVal(o.region), true
		}},
		model.FieldEntry{Name: "total", Extract: func(r any) (tuple.Value, bool) {
			o, ok := r.(*order)
			if !ok || o == nil {
				return tuple.Value{}, false
			}
			return tuple.IntVal(o.total), true
		}},
	)
}

func openAggStore(t *testing.T) *kvbolt.Store {
	t.Helper()
	s, err := kvbolt.Open(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCountMaintainerTracksGroupChanges(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_count", Kind: catalog.IndexCount, KeyPaths: []string{"region"}}
	m := &CountMaintainer{}
	ctx := context.Background()

	o1 := &order{id: "o1", region: "east"}
	o2 := &order{id: "o2", region: "east"}
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		if err := m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o1), nil, o1); err != nil {
			return err
		}
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o2), nil, o2)
	})
	require.NoError(t, err)

	var group []byte
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		var present bool
		var err error
		group, present, err = groupTuple(vt, desc, o1)
		require.NoError(t, err)
		require.True(t, present)
		n, err := m.Read(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		return nil
	})
	require.NoError(t, err)

	moved := &order{id: "o2", region: "west"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o2), o2, moved)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		n, err := m.Read(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestSumMaintainerAddsAndSubtracts(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_sum", Kind: catalog.IndexSum, KeyPaths: []string{"region"}, Options: map[string]any{"field": "total"}}
	m := &SumMaintainer{}
	ctx := context.Background()

	o1 := &order{id: "o1", region: "east", total: 100}
	o2 := &order{id: "o2", region: "east", total: 50}
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		if err := m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o1), nil, o1); err != nil {
			return err
		}
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o2), nil, o2)
	})
	require.NoError(t, err)

	group, _, err := groupTuple(vt, desc, o1)
	require.NoError(t, err)
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		sum, err := m.Read(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.Equal(t, int64(150), sum)
		return nil
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o2), o2, nil)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		sum, err := m.Read(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.Equal(t, int64(100), sum)
		return nil
	})
	require.NoError(t, err)
}

func TestAverageMaintainerDivides(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_avg", Kind: catalog.IndexAverage, KeyPaths: []string{"region"}, Options: map[string]any{"field": "total"}}
	m := &AverageMaintainer{}
	ctx := context.Background()

	orders := []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "east", total: 20},
		{id: "o3", region: "east", total: 30},
	}
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		for _, o := range orders {
			if err := m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	group, _, err := groupTuple(vt, desc, orders[0])
	require.NoError(t, err)
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		avg, err := m.Read(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.InDelta(t, 20.0, avg, 0.0001)
		return nil
	})
	require.NoError(t, err)
}

func TestMaxMaintainerRecomputesOnDeleteWithBackingIndex(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	backing := catalog.IndexDescriptor{Name: "Order_region_by_total", Kind: catalog.IndexOrdered, KeyPaths: []string{"region", "total"}}
	desc := catalog.IndexDescriptor{
		Name: "Order_region_max", Kind: catalog.IndexMax, KeyPaths: []string{"region"},
		Options: map[string]any{"field": "total", "backing_index": backing.Name},
	}
	backingM := &OrderedMaintainer{}
	maxM := MaxMaintainer()
	ctx := context.Background()

	orders := []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "east", total: 90},
		{id: "o3", region: "east", total: 40},
	}
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		for _, o := range orders {
			if err := backingM.Update(ctx, tx, sub, backing, vt, idKeyOf(t, vt, o), nil, o); err != nil {
				return err
			}
			if err := maxM.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	group, _, err := groupTuple(vt, desc, orders[0])
	require.NoError(t, err)
	ext := maxM.(*extremumMaintainer)
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		raw, err := tx.Get(ctx, aggKey(sub, desc, group, ext.stat()), false)
		require.NoError(t, err)
		require.NotNil(t, raw)
		return nil
	})
	require.NoError(t, err)

	// delete the current max; the backing index re-scan should find 40 next.
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		removed := orders[1]
		if err := backingM.Update(ctx, tx, sub, backing, vt, idKeyOf(t, vt, removed), removed, nil); err != nil {
			return err
		}
		return maxM.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, removed), removed, nil)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		raw, err := tx.Get(ctx, aggKey(sub, desc, group, ext.stat()), false)
		require.NoError(t, err)
		require.NotNil(t, raw)
		want, err := orderedNumericBytes(tuple.IntVal(40))
		require.NoError(t, err)
		require.Equal(t, want, raw)
		return nil
	})
	require.NoError(t, err)
}

func TestMaxMaintainerDeleteFailsWithoutBackingIndex(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_max", Kind: catalog.IndexMax, KeyPaths: []string{"region"}, Options: map[string]any{"field": "total"}}
	m := MaxMaintainer()
	ctx := context.Background()

	o := &order{id: "o1", region: "east", total: 10}
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), nil, o)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), o, nil)
	})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindUnsupportedAggregationDelete, e.Kind)
}

func TestDistinctMaintainerEstimatesCardinality(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_distinct_id", Kind: catalog.IndexDistinct, KeyPaths: []string{"region"}, Options: map[string]any{"field": "id"}}
	m := &DistinctMaintainer{}
	ctx := context.Background()

	const n = 500
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		for i := 0; i < n; i++ {
			o := &order{id: fmt.Sprintf("id-%d", i), region: "east"}
			if err := m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	group, _, err := groupTuple(vt, desc, &order{region: "east"})
	require.NoError(t, err)
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		est, err := m.Estimate(ctx, tx, sub, desc, group)
		require.NoError(t, err)
		require.InEpsilon(t, float64(n), est, 0.25)
		return nil
	})
	require.NoError(t, err)
}

func TestPercentileMaintainerQuantile(t *testing.T) {
	store := openAggStore(t)
	vt := orderVTable()
	sub := directory.Subspace{Prefix: []byte("S\x00")}
	desc := catalog.IndexDescriptor{Name: "Order_region_p50_total", Kind: catalog.IndexPercentile, KeyPaths: []string{"region"}, Options: map[string]any{"field": "total"}}
	m := &PercentileMaintainer{}
	ctx := context.Background()

	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		for i := 1; i <= 100; i++ {
			o := &order{id: fmt.Sprintf("o%03d", i), region: "east", total: int64(i)}
			if err := m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, o), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	group, _, err := groupTuple(vt, desc, &order{region: "east"})
	require.NoError(t, err)
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		median, err := m.Quantile(ctx, tx, sub, desc, group, 0.5)
		require.NoError(t, err)
		require.True(t, math.Abs(median-50) < 15, "median %v should approximate 50", median)
		return nil
	})
	require.NoError(t, err)
}
