package planner

import (
	"golang.org/x/exp/slices"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/tuple"
)

// candidate is one whole-clause access plan plus the bookkeeping needed to
// combine it with others into an Intersection (spec §4.9).
type candidate struct {
	plan          *Plan
	matchedFields map[string]bool
	score         float64
}

// fullScanCandidate is always emitted as the fallback (spec §4.9
// "Enumeration... Always include a full-type scan as fallback").
func fullScanCandidate(clause []Predicate) *Plan {
	p := leaf(KindFullScan)
	p.PostFilter = append([]Predicate{}, clause...)
	return p
}

// matchIndex walks idx.KeyPaths against the clause's per-field predicates:
// a leading run of equality (and at most one IN, treated as a multi-seek
// equality) constraints, optionally followed by a single range constraint
// on the next key-path (spec §4.9 "Match a leading prefix... then at most
// one range on the next key-path").
func matchIndex(idx catalog.IndexDescriptor, clause []Predicate, referenced map[string]bool) (candidate, bool) {
	byField := map[string]Predicate{}
	for _, p := range clause {
		byField[p.Field.String()] = p
	}

	seekKeys := [][]tuple.Value{{}}
	usedFields := map[string]bool{}
	matchedPrefix := 0
	var rangePred *Predicate
	var firstEqSelectivity float64
	haveEqSelectivity := false

	for _, kp := range idx.KeyPaths {
		pred, ok := byField[kp]
		if !ok {
			break
		}
		switch pred.Op {
		case OpEq:
			for i := range seekKeys {
				seekKeys[i] = append(seekKeys[i], pred.Eq)
			}
			usedFields[kp] = true
			matchedPrefix++
			continue
		case OpIn:
			if len(pred.In) == 0 {
				return candidate{}, false
			}
			expanded := make([][]tuple.Value, 0, len(seekKeys)*len(pred.In))
			for _, base := range seekKeys {
				for _, v := range pred.In {
					nb := append(append([]tuple.Value{}, base...), v)
					expanded = append(expanded, nb)
				}
			}
			seekKeys = expanded
			usedFields[kp] = true
			matchedPrefix++
		case OpRange:
			rp := pred
			rangePred = &rp
			usedFields[kp] = true
			matchedPrefix++
		default:
			// Not a prefix-extending constraint (null-check, pattern, ...):
			// the matched prefix stops here; the predicate stays a post-filter.
		}
		// Anything but an equality (which continued above) ends the matched
		// prefix: IN already fixed one field's cross-product, at most one
		// range is allowed, always as the last matched key-path (spec §4.9),
		// and a null-check or pattern cannot extend the seek key.
		break
	}
	if matchedPrefix == 0 {
		return candidate{}, false
	}

	var remaining []Predicate
	for _, p := range clause {
		if !usedFields[p.Field.String()] {
			remaining = append(remaining, p)
		}
	}

	var plan *Plan
	if rangePred != nil {
		plan = leaf(KindIndexScan)
		plan.Index = idx.Name
		// seekKeys holds exactly one accumulated prefix at this point: the
		// range predicate always breaks the loop immediately, so no IN
		// cross-product has had a chance to fan it out yet.
		plan.RangePrefix = seekKeys[0]
		plan.RangeLow, plan.LowInclusive = rangePred.Low, rangePred.LowInclusive
		plan.RangeHigh, plan.HighInclusive = rangePred.High, rangePred.HighInclusive
	} else {
		plan = leaf(KindIndexSeek)
		plan.Index = idx.Name
		plan.SeekKeys = seekKeys
		if firstEqPred, ok := byField[idx.KeyPaths[0]]; ok && firstEqPred.Op == OpEq {
			haveEqSelectivity = true
			firstEqSelectivity = defaultEqualitySelectivity
		}
	}
	plan.PostFilter = remaining
	plan.FetchRecords = !indexCoversFields(idx, referenced)
	plan.OrderingSatisfied = orderingSatisfied(idx, matchedPrefix, nil)

	score := float64(matchedPrefix) * 10
	if idx.Unique {
		score += 100
	}
	if haveEqSelectivity && firstEqSelectivity > 0 {
		score += 1 / firstEqSelectivity
	}

	return candidate{plan: plan, matchedFields: usedFields, score: score}, true
}

// indexCoversFields reports whether every referenced field is available
// directly off the index entry (key-path or stored field), letting the
// plan skip a record fetch (spec §4.9 referenced-fields analysis).
func indexCoversFields(idx catalog.IndexDescriptor, referenced map[string]bool) bool {
	available := map[string]bool{}
	for _, f := range idx.KeyPaths {
		available[f] = true
	}
	for _, f := range idx.StoredFields {
		available[f] = true
	}
	for f := range referenced {
		if !available[f] {
			return false
		}
	}
	return true
}

// orderingSatisfied reports whether reading idx in key order alone already
// satisfies sortKeys. A deliberate simplification (documented in
// DESIGN.md): only ascending sorts whose fields exactly equal idx's
// key-path order starting at the matched prefix are recognized; the
// planner falls back to an explicit Sort for anything else, which is
// always correct, just not always cheapest.
func orderingSatisfied(idx catalog.IndexDescriptor, matchedPrefix int, sortKeys []SortKey) bool {
	if len(sortKeys) == 0 {
		return true
	}
	if matchedPrefix+len(sortKeys) > len(idx.KeyPaths) {
		return false
	}
	for i, sk := range sortKeys {
		if sk.Descending || sk.Field.String() != idx.KeyPaths[matchedPrefix+i] {
			return false
		}
	}
	return true
}

// candidatesForClause enumerates every usable access plan for one AND
// clause: the full-scan fallback, one candidate per matching index, and,
// when two or more equality-only candidates touch disjoint fields, an
// Intersection combining them (spec §4.9).
func candidatesForClause(clause []Predicate, indexes []catalog.IndexDescriptor, referenced map[string]bool, sortKeys []SortKey) []*Plan {
	plans := []*Plan{fullScanCandidate(clause)}

	var cands []candidate
	for _, idx := range indexes {
		if c, ok := matchIndex(idx, clause, referenced); ok {
			c.plan.OrderingSatisfied = orderingSatisfied(idx, len(c.matchedFields), sortKeys)
			plans = append(plans, c.plan)
			cands = append(cands, c)
		}
	}

	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	var chosen []candidate
	covered := map[string]bool{}
	for _, c := range cands {
		if c.plan.Kind != KindIndexSeek {
			continue
		}
		disjoint := true
		for f := range c.matchedFields {
			if covered[f] {
				disjoint = false
				break
			}
		}
		if !disjoint {
			continue
		}
		chosen = append(chosen, c)
		for f := range c.matchedFields {
			covered[f] = true
		}
	}
	if len(chosen) >= 2 {
		inter := &Plan{Kind: KindIntersection, FetchRecords: true}
		var remaining []Predicate
		for _, c := range chosen {
			childCopy := *c.plan
			childCopy.FetchRecords = false
			inter.Children = append(inter.Children, &childCopy)
		}
		for _, p := range clause {
			if !covered[p.Field.String()] {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) > 0 {
			inter = &Plan{Kind: KindFilter, Children: []*Plan{inter}, PostFilter: remaining}
		}
		plans = append(plans, inter)
	}

	return plans
}
