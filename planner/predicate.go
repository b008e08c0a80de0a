// Package planner implements query planning (spec C9): analysis of a raw
// predicate tree into per-field constraints, candidate plan enumeration
// against a type's index descriptors, a cost model, and deterministic
// plan selection.
package planner

import (
	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/tuple"
)

// Op is one analyzed constraint kind (spec §4.9 "Analysis").
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpRange    Op = "range"
	OpIn       Op = "in"
	OpNull     Op = "null"
	OpNotNull  Op = "not_null"
	OpText     Op = "text"
	OpSpatial  Op = "spatial"
	OpVector   Op = "vector"
	OpPattern  Op = "pattern"
)

// Predicate is one analyzed per-field constraint.
type Predicate struct {
	Field Field
	Op    Op

	Eq  tuple.Value   // OpEq/OpNeq
	In  []tuple.Value // OpIn

	Low, High                   tuple.Value // OpRange
	LowInclusive, HighInclusive bool

	Pattern string // OpPattern: a prefix/glob-style match, applied as a post-filter

	Text *TextConstraint
	Spatial *SpatialConstraint
	Vector *VectorConstraint
}

// Field is either a single field name or a dotted compound path, matching
// model.TypeVTable.GetPath's segment convention.
type Field []string

func (f Field) String() string {
	s := f[0]
	for _, seg := range f[1:] {
		s += "." + seg
	}
	return s
}

// TextConstraint names a full-text query over one field (spec §4.8/§4.9:
// "support AND/OR/phrase/BM25 at query time").
type TextConstraint struct {
	Terms  []string
	Phrase bool
	Mode   TextMode
}

type TextMode string

const (
	TextModeAnd TextMode = "and"
	TextModeOr  TextMode = "or"
)

// SpatialConstraint names a covering-cell query over one (lat, lon) pair.
type SpatialConstraint struct {
	Lat, Lon float64
	Level    int
}

// VectorConstraint names a nearest-neighbor query over one vector field.
type VectorConstraint struct {
	Query []float64
	K     int
}

// SortKey is one ORDER BY term.
type SortKey struct {
	Field      Field
	Descending bool
}

// Hint lets a caller bypass plan selection entirely (spec §4.9 "Hints").
type Hint struct {
	ForceIndex string
	ForceScan  bool
}

// Query is the analyzed form of one request: a disjunction (OR) of
// conjunctive clauses (spec §4.9 "normalize to conjunctive form" plus
// "if the normalized form is a top-level disjunction"). A single-clause
// Query is a plain AND of its Clauses[0] predicates.
type Query struct {
	TypeName string
	Clauses  [][]Predicate
	Sort     []SortKey
	Limit    int
	Offset   int
	Hint     *Hint
}

// ReferencedFields returns every field named by any predicate or sort key,
// deduplicated, for projection/covering-index decisions.
func (q Query) ReferencedFields() []string {
	seen := map[string]bool{}
	var out []string
	add := func(f Field) {
		s := f.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, clause := range q.Clauses {
		for _, p := range clause {
			add(p.Field)
		}
	}
	for _, sk := range q.Sort {
		add(sk.Field)
	}
	return out
}

func validateQuery(q Query) error {
	if len(q.Clauses) == 0 {
		return errs.New(errs.KindInvalidQuery, "query has no clauses")
	}
	for _, clause := range q.Clauses {
		for _, p := range clause {
			if len(p.Field) == 0 {
				return errs.New(errs.KindInvalidQuery, "predicate has no field")
			}
		}
	}
	return nil
}

// indexByName finds a descriptor by name, for hint resolution.
func indexByName(indexes []catalog.IndexDescriptor, name string) (catalog.IndexDescriptor, bool) {
	for _, idx := range indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return catalog.IndexDescriptor{}, false
}
