package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/index"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/kv/kvbolt"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/planner"
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

func idKeyOf(t *testing.T, vt *model.TypeVTable, rec any) []byte {
	t.Helper()
	v, err := vt.ID(rec)
	require.NoError(t, err)
	b, err := tuple.Encode(nil, v)
	require.NoError(t, err)
	return b
}

// fixture wires up a kvbolt store with a handful of orders: their records
// written under the record prefix and an Ordered index on region, exactly
// as the engine layer would during Insert (spec §4.3), so Execute exercises
// real on-disk key layouts rather than a mock.
type fixture struct {
	store *kvbolt.Store
	sub   directory.Subspace
	vt    *model.TypeVTable
	idx   catalog.IndexDescriptor
	env   Env
	byID  map[string]*order
}

func newFixture(t *testing.T, orders []*order) *fixture {
	t.Helper()
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sub := directory.Subspace{Prefix: []byte("S\x00")}
	vt := orderVTable()
	idx := catalog.IndexDescriptor{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}}
	maintainer := &index.OrderedMaintainer{}
	byID := map[string]*order{}

	ctx := context.Background()
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		for _, o := range orders {
			idKey := idKeyOf(t, vt, o)
			byID[string(idKey)] = o
			if err := tx.Set(ctx, append(append([]byte{}, sub.RecordPrefix(vt.TypeName)...), idKey...), []byte{1}); err != nil {
				return err
			}
			if err := maintainer.Update(ctx, tx, sub, idx, vt, idKey, nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	env := Env{
		Sub:     sub,
		VT:      vt,
		Indexes: map[string]catalog.IndexDescriptor{idx.Name: idx},
		Fetch: func(ctx context.Context, tx kv.Tx, idKey []byte) (any, error) {
			return byID[string(idKey)], nil
		},
	}
	return &fixture{store: store, sub: sub, vt: vt, idx: idx, env: env, byID: byID}
}

func (f *fixture) run(t *testing.T, p *planner.Plan) []Item {
	t.Helper()
	var out []Item
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		var err error
		out, err = Execute(ctx, tx, p, f.env)
		return err
	})
	require.NoError(t, err)
	return out
}

func idsOf(items []Item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Record.(*order).id)
	}
	return out
}

func TestExecFullScanAppliesPostFilter(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "west", total: 20},
		{id: "o3", region: "east", total: 30},
	})
	p := &planner.Plan{Kind: planner.KindFullScan, FetchRecords: true, PostFilter: []planner.Predicate{
		{Field: planner.Field{"region"}, Op: planner.OpEq, Eq: tuple.StringVal("east")},
	}}
	items := f.run(t, p)
	require.ElementsMatch(t, []string{"o1", "o3"}, idsOf(items))
}

func TestExecIndexSeekReturnsMatchingIDs(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "west", total: 20},
		{id: "o3", region: "east", total: 30},
	})
	p := &planner.Plan{
		Kind:         planner.KindIndexSeek,
		Index:        "Order_region",
		SeekKeys:     [][]tuple.Value{{tuple.StringVal("east")}},
		FetchRecords: true,
	}
	items := f.run(t, p)
	require.ElementsMatch(t, []string{"o1", "o3"}, idsOf(items))
}

func TestExecIndexScanRangeOverTotalIndex(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "east", total: 20},
		{id: "o3", region: "east", total: 30},
	})
	totalIdx := catalog.IndexDescriptor{Name: "Order_total", Kind: catalog.IndexOrdered, KeyPaths: []string{"total"}}
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		m := &index.OrderedMaintainer{}
		for _, o := range []*order{{id: "o1", region: "east", total: 10}, {id: "o2", region: "east", total: 20}, {id: "o3", region: "east", total: 30}} {
			if err := m.Update(ctx, tx, f.sub, totalIdx, f.vt, idKeyOf(t, f.vt, o), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	f.env.Indexes[totalIdx.Name] = totalIdx

	p := &planner.Plan{
		Kind:          planner.KindIndexScan,
		Index:         "Order_total",
		RangeLow:      tuple.IntVal(15),
		LowInclusive:  true,
		RangeHigh:     tuple.IntVal(30),
		HighInclusive: false,
		FetchRecords:  true,
	}
	items := f.run(t, p)
	require.ElementsMatch(t, []string{"o2"}, idsOf(items))
}

func TestExecSortOrdersByField(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 30},
		{id: "o2", region: "east", total: 10},
		{id: "o3", region: "east", total: 20},
	})
	p := &planner.Plan{
		Kind: planner.KindSort,
		Children: []*planner.Plan{
			{Kind: planner.KindIndexSeek, Index: "Order_region", SeekKeys: [][]tuple.Value{{tuple.StringVal("east")}}, FetchRecords: true},
		},
		SortKeys: []planner.SortKey{{Field: planner.Field{"total"}}},
	}
	items := f.run(t, p)
	require.Equal(t, []string{"o2", "o3", "o1"}, idsOf(items))
}

func TestExecLimitDropsOffsetThenTakes(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 30},
		{id: "o2", region: "east", total: 10},
		{id: "o3", region: "east", total: 20},
	})
	p := &planner.Plan{
		Kind: planner.KindLimit,
		Children: []*planner.Plan{
			{Kind: planner.KindSort, Children: []*planner.Plan{
				{Kind: planner.KindIndexSeek, Index: "Order_region", SeekKeys: [][]tuple.Value{{tuple.StringVal("east")}}, FetchRecords: true},
			}, SortKeys: []planner.SortKey{{Field: planner.Field{"total"}}}},
		},
		Offset: 1,
		Limit:  1,
	}
	items := f.run(t, p)
	require.Equal(t, []string{"o3"}, idsOf(items))
}

func TestExecUnionDeduplicatesAcrossChildren(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "west", total: 20},
	})
	p := &planner.Plan{
		Kind: planner.KindUnion,
		Children: []*planner.Plan{
			{Kind: planner.KindIndexSeek, Index: "Order_region", SeekKeys: [][]tuple.Value{{tuple.StringVal("east")}}, FetchRecords: true},
			{Kind: planner.KindIndexSeek, Index: "Order_region", SeekKeys: [][]tuple.Value{{tuple.StringVal("east")}, {tuple.StringVal("west")}}, FetchRecords: true},
		},
		FetchRecords: true,
	}
	items := f.run(t, p)
	require.ElementsMatch(t, []string{"o1", "o2"}, idsOf(items))
}

func TestExecIntersectionOfTwoIndexes(t *testing.T) {
	f := newFixture(t, []*order{
		{id: "o1", region: "east", total: 10},
		{id: "o2", region: "east", total: 20},
		{id: "o3", region: "west", total: 10},
	})
	statusIdx := catalog.IndexDescriptor{Name: "Order_total_eq", Kind: catalog.IndexOrdered, KeyPaths: []string{"total"}}
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx kv.Tx) error {
		m := &index.OrderedMaintainer{}
		for id, o := range f.byID {
			if err := m.Update(ctx, tx, f.sub, statusIdx, f.vt, []byte(id), nil, o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	f.env.Indexes[statusIdx.Name] = statusIdx

	p := &planner.Plan{
		Kind: planner.KindIntersection,
		Children: []*planner.Plan{
			{Kind: planner.KindIndexSeek, Index: "Order_region", SeekKeys: [][]tuple.Value{{tuple.StringVal("east")}}, FetchRecords: false},
			{Kind: planner.KindIndexSeek, Index: "Order_total_eq", SeekKeys: [][]tuple.Value{{tuple.IntVal(10)}}, FetchRecords: false},
		},
		FetchRecords: true,
	}
	items := f.run(t, p)
	require.ElementsMatch(t, []string{"o1"}, idsOf(items))
}
