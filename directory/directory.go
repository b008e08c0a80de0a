// Package directory implements the directory resolver (spec C2): mapping
// a logical (type, partition values) pair to a physical key subspace,
// cached process-wide behind a single mutex with the shortest possible
// critical section per lookup (spec §5).
package directory

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/tuple"
)

// Segment is one element of a directory path template (spec §4.2): either
// a static path component or a reference to a field that must be bound
// (at save time, extracted from the record; at fetch time, supplied by the
// caller) before the path can be resolved.
type Segment struct {
	Static string // used when Field == ""
	Field  string // field name; empty means Static applies
}

func Static(s string) Segment  { return Segment{Static: s} }
func Field(field string) Segment { return Segment{Field: field} }

func (s Segment) isDynamic() bool { return s.Field != "" }

// Template is the ordered path for one record type.
type Template []Segment

// RequiredFields returns the field names that must be bound to resolve
// this template, in template order.
func (t Template) RequiredFields() []string {
	var out []string
	for _, seg := range t {
		if seg.isDynamic() {
			out = append(out, seg.Field)
		}
	}
	return out
}

// IsStatic reports whether the template contains no field references, in
// which case it resolves to a single cached subspace independent of any
// record.
func (t Template) IsStatic() bool {
	for _, seg := range t {
		if seg.isDynamic() {
			return false
		}
	}
	return true
}

// Subspace is a resolved physical key prefix.
type Subspace struct {
	Prefix []byte
}

func (s Subspace) Pack(b []byte) []byte {
	out := make([]byte, 0, len(s.Prefix)+len(b))
	out = append(out, s.Prefix...)
	out = append(out, b...)
	return out
}

// Resolver caches resolved subspaces by their concatenated path string.
type Resolver struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Subspace]
	root  []byte
}

// NewResolver constructs a resolver rooted at root (e.g. the engine's top
// subspace prefix), with an LRU cache bounded to size entries.
func NewResolver(root []byte, size int) *Resolver {
	c, _ := lru.New[string, Subspace](size)
	return &Resolver{cache: c, root: root}
}

// bindingSource supplies field values by name, either from a record
// instance (save path) or from caller-provided bindings (fetch path).
type bindingSource interface {
	Lookup(field string) (tuple.Value, bool)
}

// Bindings is a simple map-backed bindingSource for explicit caller binds
// (spec: "fetch requires the caller to explicitly bind partition values").
type Bindings map[string]tuple.Value

func (b Bindings) Lookup(field string) (tuple.Value, bool) { v, ok := b[field]; return v, ok }

// Resolve resolves a template with the given bindings into a subspace,
// caching by the concatenated resolved path (spec §4.2).
func (r *Resolver) Resolve(typeName string, tmpl Template, bindings bindingSource) (Subspace, error) {
	if tmpl.IsStatic() {
		return r.resolveCached("T/"+typeName, func() (Subspace, error) {
			return r.build(typeName, tmpl, bindings)
		})
	}

	var missing []string
	parts := make([]string, 0, len(tmpl)+1)
	parts = append(parts, typeName)
	for _, seg := range tmpl {
		if !seg.isDynamic() {
			parts = append(parts, seg.Static)
			continue
		}
		v, ok := bindings.Lookup(seg.Field)
		if !ok {
			missing = append(missing, seg.Field)
			continue
		}
		enc, err := tuple.Encode(nil, v)
		if err != nil {
			return Subspace{}, errs.Wrap(errs.KindTupleEncoding, err, "encoding partition field "+seg.Field)
		}
		parts = append(parts, string(enc))
	}
	if len(missing) > 0 {
		return Subspace{}, errs.MissingPartitionFields(missing)
	}
	key := strings.Join(parts, "\x1f")
	return r.resolveCached(key, func() (Subspace, error) {
		return r.build(typeName, tmpl, bindings)
	})
}

// RequireExplicitBinding enforces the fetch-path contract: any dynamic
// template requires the caller to have bound its fields explicitly,
// raising PartitionRequired otherwise (distinct from MissingPartitionFields,
// which fires once binding was attempted but incomplete).
func RequireExplicitBinding(tmpl Template, bindings Bindings) error {
	if tmpl.IsStatic() {
		return nil
	}
	if len(bindings) == 0 {
		return errs.PartitionRequired(tmpl.RequiredFields())
	}
	return nil
}

func (r *Resolver) resolveCached(key string, build func() (Subspace, error)) (Subspace, error) {
	r.mu.Lock()
	if sub, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		return sub, nil
	}
	r.mu.Unlock()

	sub, err := build()
	if err != nil {
		return Subspace{}, err
	}

	r.mu.Lock()
	r.cache.Add(key, sub)
	r.mu.Unlock()
	return sub, nil
}

// build resolves the path template (relative to r.root) into a subspace
// prefix. The subspace is where record/index/blob/meta keys for this
// (type, partition) pair live — see package record and package catalog for
// the "R/", "I/", "B/", "_meta/" sub-layout within it (spec §3).
func (r *Resolver) build(typeName string, tmpl Template, bindings bindingSource) (Subspace, error) {
	prefix := make([]byte, 0, len(r.root)+32)
	prefix = append(prefix, r.root...)
	prefix = append(prefix, []byte(typeName)...)
	prefix = append(prefix, 0x00)
	for _, seg := range tmpl {
		if !seg.isDynamic() {
			prefix = append(prefix, []byte(seg.Static)...)
			prefix = append(prefix, 0x00)
			continue
		}
		v, ok := bindings.Lookup(seg.Field)
		if !ok {
			return Subspace{}, errs.MissingPartitionFields([]string{seg.Field})
		}
		enc, err := tuple.Encode(nil, v)
		if err != nil {
			return Subspace{}, errs.Wrap(errs.KindTupleEncoding, err, "encoding partition field "+seg.Field)
		}
		prefix = append(prefix, enc...)
		prefix = append(prefix, 0x00)
	}
	return Subspace{Prefix: prefix}, nil
}
