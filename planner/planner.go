package planner

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/errs"
)

// Select analyzes q against typeIndexes and returns the minimum-cost
// execution tree (spec §4.9: "Analyze → enumerate → cost → select →
// (optionally) rewrite"). Rewrites (filter-pushdown, sort-elimination,
// limit-pushdown) are documented in spec §4.9 as future work; base
// selection is already correct, so none are applied here.
func Select(q Query, typeIndexes []catalog.IndexDescriptor, stats Stats) (*Plan, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	if q.Hint != nil {
		if p, err := applyHint(q, typeIndexes); err != nil || p != nil {
			return p, err
		}
	}

	referenced := map[string]bool{}
	for _, f := range q.ReferencedFields() {
		referenced[f] = true
	}

	clausePlans := make([]*Plan, 0, len(q.Clauses))
	for _, clause := range q.Clauses {
		best := selectBest(candidatesForClause(clause, typeIndexes, referenced, q.Sort), stats)
		clausePlans = append(clausePlans, best)
	}

	var root *Plan
	switch {
	case len(clausePlans) == 1:
		root = clausePlans[0]
	case allIndexBased(clausePlans):
		// spec §4.9: "If the normalized form is a top-level disjunction and
		// every disjunct has a usable index, emit a deduplicating Union
		// plan." Union output is unordered per spec; any required sort is
		// applied afterward regardless of each child's own ordering.
		root = &Plan{Kind: KindUnion, Children: clausePlans, FetchRecords: false}
	default:
		// Mixed coverage: no combination of partial scans is guaranteed
		// correct without re-deriving which rows escape every disjunct's
		// index, so the whole original predicate runs as one full scan.
		root = fullScanForWholeQuery(q)
	}

	if len(q.Sort) > 0 && !root.OrderingSatisfied {
		root = &Plan{Kind: KindSort, Children: []*Plan{root}, SortKeys: q.Sort}
	}
	if q.Limit > 0 || q.Offset > 0 {
		root = &Plan{Kind: KindLimit, Children: []*Plan{root}, Limit: q.Limit, Offset: q.Offset, OrderingSatisfied: root.OrderingSatisfied}
	}

	cost(root, stats)
	return root, nil
}

func fullScanForWholeQuery(q Query) *Plan {
	p := leaf(KindFullScan)
	for _, clause := range q.Clauses {
		p.PostFilter = append(p.PostFilter, clause...)
	}
	return p
}

func allIndexBased(plans []*Plan) bool {
	if len(plans) < 2 {
		return false
	}
	for _, p := range plans {
		if p.Kind == KindFullScan {
			return false
		}
	}
	return true
}

// selectBest picks the minimum-cost candidate, breaking ties by fewer
// operators then by index name (spec §4.9 "Plan selection").
func selectBest(candidates []*Plan, stats Stats) *Plan {
	for _, c := range candidates {
		cost(c, stats)
	}
	slices.SortFunc(candidates, func(a, b *Plan) int {
		if a.Cost != b.Cost {
			if a.Cost < b.Cost {
				return -1
			}
			return 1
		}
		na, nb := operatorCount(a), operatorCount(b)
		if na != nb {
			return na - nb
		}
		return compareStrings(a.Index, b.Index)
	})
	return candidates[0]
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func operatorCount(p *Plan) int {
	n := 1
	for _, c := range p.Children {
		n += operatorCount(c)
	}
	return n
}

// applyHint bypasses selection entirely (spec §4.9 "Hints"). A non-nil
// plan (or error) short-circuits Plan; a nil, nil return means the hint
// did not apply (e.g. an unknown index name) and normal selection proceeds.
func applyHint(q Query, typeIndexes []catalog.IndexDescriptor) (*Plan, error) {
	if q.Hint.ForceScan {
		root := fullScanForWholeQuery(q)
		if len(q.Sort) > 0 {
			root = &Plan{Kind: KindSort, Children: []*Plan{root}, SortKeys: q.Sort}
		}
		if q.Limit > 0 || q.Offset > 0 {
			root = &Plan{Kind: KindLimit, Children: []*Plan{root}, Limit: q.Limit, Offset: q.Offset}
		}
		return root, nil
	}
	if q.Hint.ForceIndex == "" {
		return nil, nil
	}
	idx, ok := indexByName(typeIndexes, q.Hint.ForceIndex)
	if !ok {
		return nil, errs.Newf(errs.KindInvalidQuery, "hint names unknown index %q", q.Hint.ForceIndex)
	}
	referenced := map[string]bool{}
	for _, f := range q.ReferencedFields() {
		referenced[f] = true
	}
	var allPredicates []Predicate
	for _, clause := range q.Clauses {
		allPredicates = append(allPredicates, clause...)
	}
	c, ok := matchIndex(idx, allPredicates, referenced)
	if !ok {
		return nil, errs.Newf(errs.KindInvalidQuery, "forced index %q does not match any predicate in this query", idx.Name)
	}
	root := c.plan
	if len(q.Sort) > 0 && !root.OrderingSatisfied {
		root = &Plan{Kind: KindSort, Children: []*Plan{root}, SortKeys: q.Sort}
	}
	if q.Limit > 0 || q.Offset > 0 {
		root = &Plan{Kind: KindLimit, Children: []*Plan{root}, Limit: q.Limit, Offset: q.Offset, OrderingSatisfied: root.OrderingSatisfied}
	}
	return root, nil
}

// DistinctFields returns counts' keys in deterministic order
// (golang.org/x/exp/maps.Keys plus a sort pass, spec C9's binding for
// "deterministic map iteration... plus a sort pass for tie-break
// determinism"), for callers building a Stats value from raw per-field
// counters without depending on Go's randomized map iteration order.
func DistinctFields(counts map[string]int64) []string {
	keys := maps.Keys(counts)
	slices.Sort(keys)
	return keys
}
