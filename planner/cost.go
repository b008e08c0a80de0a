package planner

// Weights are the fixed per-unit costs named in spec §4.9's cost model.
const (
	weightIndexRead       = 1.0
	weightRecordFetch     = 10.0
	weightPostFilterEval  = 0.1
	weightRangeInitiation = 50.0
	weightDedupItem       = 0.5
	weightSortItem        = 0.01
)

// Default selectivity estimates (spec §4.9), used when Stats has no
// sharper per-field distinct-count estimate.
const (
	defaultEqualitySelectivity = 0.01
	rangeSelectivity           = 0.3
	patternSelectivity         = 0.1
	nullSelectivity            = 0.05
	intersectionSurvivalRatio  = 0.1
)

// Stats supplies the cardinality estimates the cost model needs. A zero
// Stats is usable (falls back to the spec's defaults throughout).
type Stats struct {
	TotalRecords   int64
	DistinctCounts map[string]int64 // field name -> estimated distinct value count
}

func (s Stats) total() float64 {
	if s.TotalRecords <= 0 {
		return 1000 // a plan still needs a finite baseline to compare candidates
	}
	return float64(s.TotalRecords)
}

// selectivity estimates the fraction of records one predicate matches.
func (s Stats) selectivity(p Predicate) float64 {
	switch p.Op {
	case OpEq:
		if dc, ok := s.DistinctCounts[p.Field.String()]; ok && dc > 0 {
			return 1 / float64(dc)
		}
		return defaultEqualitySelectivity
	case OpIn:
		per := defaultEqualitySelectivity
		if dc, ok := s.DistinctCounts[p.Field.String()]; ok && dc > 0 {
			per = 1 / float64(dc)
		}
		return min1(per * float64(len(p.In)))
	case OpRange:
		return rangeSelectivity
	case OpPattern:
		return patternSelectivity
	case OpNull, OpNotNull:
		return nullSelectivity
	default:
		return 1 // text/spatial/vector constraints are evaluated by their own operator, not estimated here
	}
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// estimateCardinality returns the expected number of items a plan node
// yields, used both to size the parent's cost and, for Union/Intersection,
// to combine children.
func estimateCardinality(p *Plan, stats Stats) float64 {
	switch p.Kind {
	case KindFullScan:
		return stats.total()
	case KindIndexSeek:
		n := float64(len(p.SeekKeys))
		if n == 0 {
			n = 1
		}
		return n * stats.total() * defaultEqualitySelectivity
	case KindIndexScan:
		return stats.total() * rangeSelectivity
	case KindFullTextScan, KindVectorSearch, KindSpatialScan:
		return stats.total() * patternSelectivity
	case KindUnion:
		var sum float64
		for _, c := range p.Children {
			sum += estimateCardinality(c, stats)
		}
		return sum
	case KindIntersection:
		minC := -1.0
		for _, c := range p.Children {
			cc := estimateCardinality(c, stats)
			if minC < 0 || cc < minC {
				minC = cc
			}
		}
		if minC < 0 {
			minC = 0
		}
		return minC * intersectionSurvivalRatio
	case KindFilter:
		base := estimateCardinality(p.Children[0], stats)
		for _, pred := range p.PostFilter {
			base *= stats.selectivity(pred)
		}
		return base
	case KindSort:
		return estimateCardinality(p.Children[0], stats)
	case KindLimit:
		c := estimateCardinality(p.Children[0], stats)
		if p.Limit > 0 && float64(p.Limit) < c {
			return float64(p.Limit)
		}
		return c
	default:
		return stats.total()
	}
}

// cost computes the weighted total cost of p (spec §4.9 cost model),
// recursing into children first since every composite's cost includes its
// children's.
func cost(p *Plan, stats Stats) float64 {
	var c float64
	for _, child := range p.Children {
		c += cost(child, stats)
	}

	switch p.Kind {
	case KindFullScan:
		n := stats.total()
		c += weightRangeInitiation
		c += n * weightIndexRead
		c += n * weightRecordFetch
		c += n * float64(len(p.PostFilter)) * weightPostFilterEval
	case KindIndexSeek:
		n := estimateCardinality(p, stats)
		c += float64(max1(len(p.SeekKeys))) * weightIndexRead
		if p.FetchRecords {
			c += n * weightRecordFetch
		}
		c += n * float64(len(p.PostFilter)) * weightPostFilterEval
	case KindIndexScan:
		n := estimateCardinality(p, stats)
		c += weightRangeInitiation
		c += n * weightIndexRead
		if p.FetchRecords {
			c += n * weightRecordFetch
		}
		c += n * float64(len(p.PostFilter)) * weightPostFilterEval
	case KindFullTextScan, KindVectorSearch, KindSpatialScan:
		n := estimateCardinality(p, stats)
		c += weightRangeInitiation
		c += n * weightRecordFetch
	case KindUnion:
		n := estimateCardinality(p, stats)
		c += n * weightDedupItem
	case KindIntersection:
		n := estimateCardinality(p, stats)
		c += n * weightRecordFetch
	case KindFilter:
		n := estimateCardinality(p.Children[0], stats)
		c += n * float64(len(p.PostFilter)) * weightPostFilterEval
	case KindSort:
		n := estimateCardinality(p.Children[0], stats)
		c += n * weightSortItem
	case KindLimit:
		// pass-through: the limit itself adds no per-item cost beyond its child's
	}
	p.Cost = c
	return c
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
