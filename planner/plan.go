package planner

import "github.com/ixdb/ixdb/tuple"

// Kind is the operator tag for one plan node (spec §4.9/§4.10).
type Kind string

const (
	KindFullScan     Kind = "full_scan"
	KindIndexSeek    Kind = "index_seek"
	KindIndexScan    Kind = "index_scan"
	KindUnion        Kind = "union"
	KindIntersection Kind = "intersection"
	KindFilter       Kind = "filter"
	KindSort         Kind = "sort"
	KindLimit        Kind = "limit"
	KindFullTextScan Kind = "full_text_scan"
	KindVectorSearch Kind = "vector_search"
	KindSpatialScan  Kind = "spatial_scan"
	KindAggregation  Kind = "aggregation"
)

// AggregationConstraint names one read against an aggregate index's
// current value (spec §4.10 "Aggregation: dispatch to the specialized
// maintainer's query side"). Unlike the other operators, an Aggregation
// plan is normally built directly by a caller asking "what is the current
// count/sum/... for group G" rather than produced by Select, since an
// aggregate index answers a different question than a predicate scan.
type AggregationConstraint struct {
	Group []tuple.Value // desc.KeyPaths values identifying the group

	TopK            int     // Ranked/Leaderboard
	Rank            *int64  // Ranked: ByRank, 0-indexed from the top; nil means "use TopK instead"
	Percentile      float64 // Percentile: Quantile, in [0,1]
	WindowTimestamp float64 // Leaderboard: any instant inside the target window
}

// Plan is one node of the selected execution tree. Only the fields
// relevant to Kind are populated; the executor switches on Kind the same
// way the index package's maintainer registry switches on catalog.IndexKind.
type Plan struct {
	Kind Kind

	// IndexSeek / IndexScan / FullTextScan / VectorSearch / SpatialScan
	Index string

	// SeekKeys holds one full key-tuple per point lookup: a single entry
	// for full-prefix equality, several for an IN constraint's multi-seek
	// (spec §4.9 "multi-seek for IN").
	SeekKeys [][]tuple.Value

	// RangePrefix holds the equality values matched ahead of the range's
	// own key-path (e.g. region="west" before a range on total), so the
	// executor can bound the scan on the composite key, not just the
	// range field alone.
	RangePrefix                 []tuple.Value
	RangeLow, RangeHigh         tuple.Value // IndexScan
	LowInclusive, HighInclusive bool

	Text        *TextConstraint
	Spatial     *SpatialConstraint
	Vector      *VectorConstraint
	Aggregation *AggregationConstraint

	// Union / Intersection / Filter / Sort / Limit
	Children []*Plan

	// Filter
	PostFilter []Predicate

	// Sort
	SortKeys []SortKey

	// Limit
	Limit  int
	Offset int

	// OrderingSatisfied is true when this node's own output order already
	// meets the query's required Sort, letting the selector skip wrapping
	// it in a Sort node (spec §4.9 "Ordering guarantee").
	OrderingSatisfied bool

	// FetchRecords is true when this node's output still needs the full
	// record fetched by id (false for a covering index read).
	FetchRecords bool

	Cost float64
}

// leaf builds a childless plan node (FullScan/IndexSeek/IndexScan/
// specialized operators) with FetchRecords defaulted true; a covering
// index read clears it explicitly at the enumeration site.
func leaf(kind Kind) *Plan {
	return &Plan{Kind: kind, FetchRecords: true}
}
