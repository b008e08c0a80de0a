package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/tuple"
)

func eqPred(field string, v tuple.Value) Predicate {
	return Predicate{Field: Field{field}, Op: OpEq, Eq: v}
}

func rangePred(field string, low, high tuple.Value) Predicate {
	return Predicate{Field: Field{field}, Op: OpRange, Low: low, High: high, LowInclusive: true, HighInclusive: false}
}

func TestSelectChoosesIndexSeekOverFullScan(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("region", tuple.StringVal("west"))}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindIndexSeek, plan.Kind)
	require.Equal(t, "Order_region", plan.Index)
}

func TestSelectFallsBackToFullScanWithoutUsableIndex(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("status", tuple.StringVal("open"))}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindFullScan, plan.Kind)
}

func TestSelectUsesRangeScan(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_total", Kind: catalog.IndexOrdered, KeyPaths: []string{"total"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{rangePred("total", tuple.IntVal(10), tuple.IntVal(100))}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindIndexScan, plan.Kind)
	require.Equal(t, "Order_total", plan.Index)
}

func TestSelectBuildsIntersectionForIndependentEqualities(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
		{Name: "Order_status", Kind: catalog.IndexOrdered, KeyPaths: []string{"status"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses: [][]Predicate{{
			eqPred("region", tuple.StringVal("west")),
			eqPred("status", tuple.StringVal("open")),
		}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 1_000_000})
	require.NoError(t, err)
	require.Equal(t, KindIntersection, plan.Kind)
	require.Len(t, plan.Children, 2)
}

func TestSelectUnionsDisjunctionWhenEveryDisjunctHasAnIndex(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses: [][]Predicate{
			{eqPred("region", tuple.StringVal("west"))},
			{eqPred("region", tuple.StringVal("east"))},
		},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindUnion, plan.Kind)
	require.Len(t, plan.Children, 2)
}

func TestSelectWrapsSortWhenOrderingNotSatisfied(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("region", tuple.StringVal("west"))}},
		Sort:     []SortKey{{Field: Field{"total"}}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindSort, plan.Kind)
}

func TestSelectOmitsSortWhenIndexOrderAlreadySatisfiesIt(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region_total", Kind: catalog.IndexOrdered, KeyPaths: []string{"region", "total"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("region", tuple.StringVal("west"))}},
		Sort:     []SortKey{{Field: Field{"total"}}},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindIndexSeek, plan.Kind)
}

func TestSelectHonorsForceScanHint(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("region", tuple.StringVal("west"))}},
		Hint:     &Hint{ForceScan: true},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindFullScan, plan.Kind)
}

func TestSelectHonorsForceIndexHint(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
		{Name: "Order_status", Kind: catalog.IndexOrdered, KeyPaths: []string{"status"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses: [][]Predicate{{
			eqPred("region", tuple.StringVal("west")),
			eqPred("status", tuple.StringVal("open")),
		}},
		Hint: &Hint{ForceIndex: "Order_status"},
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindIndexSeek, plan.Kind)
	require.Equal(t, "Order_status", plan.Index)
}

func TestSelectLimit(t *testing.T) {
	indexes := []catalog.IndexDescriptor{
		{Name: "Order_region", Kind: catalog.IndexOrdered, KeyPaths: []string{"region"}},
	}
	q := Query{
		TypeName: "Order",
		Clauses:  [][]Predicate{{eqPred("region", tuple.StringVal("west"))}},
		Limit:    10,
	}
	plan, err := Select(q, indexes, Stats{TotalRecords: 10000})
	require.NoError(t, err)
	require.Equal(t, KindLimit, plan.Kind)
	require.Equal(t, 10, plan.Limit)
	require.Equal(t, KindIndexSeek, plan.Children[0].Kind)
}
