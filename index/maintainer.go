// Package index implements the index maintainer dispatch (spec C5): one
// updater per index kind, selected from a sealed registry built at process
// start (spec §9 — no open inheritance, no reflection-based plugin ABI).
package index

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/index/bitmap"
	"github.com/ixdb/ixdb/index/graph"
	"github.com/ixdb/ixdb/index/history"
	"github.com/ixdb/ixdb/index/spatial"
	"github.com/ixdb/ixdb/index/text"
	"github.com/ixdb/ixdb/index/vector"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// Maintainer is the per-index-kind updater contract (spec §4.5).
type Maintainer interface {
	// Update atomically transitions an index entry set from old to new.
	// Either record may be nil (insert: old==nil; delete: new==nil).
	Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error

	// ScanForBuild maintains the index for one already-existing record
	// during an online index build (migration: disabled -> write-only ->
	// online build -> readable).
	ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error

	// ExpectedKeys returns the set of index keys a correctly-maintained
	// index must contain for rec, used by verification tooling (P2).
	ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error)
}

// Registry maps each closed-set index kind to its concrete maintainer,
// built once at process startup (spec §9: "sealed enum of kind ids paired
// with a registry... New kinds are added by registering at process
// startup; no open inheritance").
type Registry struct {
	byKind map[catalog.IndexKind]Maintainer
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[catalog.IndexKind]Maintainer)}
}

func (r *Registry) Register(kind catalog.IndexKind, m Maintainer) {
	r.byKind[kind] = m
}

func (r *Registry) For(kind catalog.IndexKind) (Maintainer, bool) {
	m, ok := r.byKind[kind]
	return m, ok
}

// NewDefaultRegistry wires every index kind named in spec §3 to its
// concrete maintainer.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	ordered := &OrderedMaintainer{}
	unique := &OrderedMaintainer{Unique: true}
	r.Register(catalog.IndexOrdered, ordered)
	r.Register(catalog.IndexUniqueOrdered, unique)
	r.Register(catalog.IndexCount, &CountMaintainer{})
	r.Register(catalog.IndexSum, &SumMaintainer{})
	r.Register(catalog.IndexAverage, &AverageMaintainer{})
	r.Register(catalog.IndexMin, MinMaintainer())
	r.Register(catalog.IndexMax, MaxMaintainer())
	r.Register(catalog.IndexDistinct, &DistinctMaintainer{})
	r.Register(catalog.IndexPercentile, &PercentileMaintainer{})
	r.Register(catalog.IndexRanked, &RankedMaintainer{})
	r.Register(catalog.IndexLeaderboard, &LeaderboardMaintainer{})
	r.Register(catalog.IndexBitmap, &bitmap.Maintainer{})
	r.Register(catalog.IndexGraph, &graph.Maintainer{})
	r.Register(catalog.IndexInvertedText, &text.Maintainer{})
	r.Register(catalog.IndexVector, &vector.Maintainer{})
	r.Register(catalog.IndexSpatial, &spatial.Maintainer{})
	r.Register(catalog.IndexVersionHistory, &history.Maintainer{})
	return r
}

// indexEntryKey appends valueTuple and idKey to an index's prefix to
// produce the full physical index key under sub.
func indexEntryKey(sub directory.Subspace, indexName string, valueTuple []byte, idKey []byte) []byte {
	prefix := sub.IndexPrefix(indexName)
	out := make([]byte, 0, len(prefix)+len(valueTuple)+len(idKey))
	out = append(out, prefix...)
	out = append(out, valueTuple...)
	out = append(out, idKey...)
	return out
}

// keyPathValues extracts and encodes the index's key-path fields from a
// record, in order, as one tuple-encoded value (spec §4.5, §4.9: "leading
// prefix of the index's key-path").
func keyPathValues(vt *model.TypeVTable, desc catalog.IndexDescriptor, rec any) ([]byte, bool, error) {
	if rec == nil {
		return nil, false, nil
	}
	vals := make([]tuple.Value, 0, len(desc.KeyPaths))
	for _, field := range desc.KeyPaths {
		v, present, err := vt.Get(rec, field)
		if err != nil {
			return nil, false, err
		}
		if !present {
			v = tuple.Null()
		}
		vals = append(vals, v)
	}
	enc, err := tuple.Encode(nil, vals...)
	if err != nil {
		return nil, false, err
	}
	return enc, true, nil
}

func storedFieldsValue(vt *model.TypeVTable, desc catalog.IndexDescriptor, rec any) ([]byte, error) {
	if len(desc.StoredFields) == 0 || rec == nil {
		return nil, nil
	}
	vals := make([]tuple.Value, 0, len(desc.StoredFields))
	for _, field := range desc.StoredFields {
		v, present, err := vt.Get(rec, field)
		if err != nil {
			return nil, err
		}
		if !present {
			v = tuple.Null()
		}
		vals = append(vals, v)
	}
	return tuple.Encode(nil, vals...)
}
