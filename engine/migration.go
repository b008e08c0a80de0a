package engine

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/index"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/record"
	"github.com/ixdb/ixdb/txn"
)

// AddIndex registers a new index in the write-only state (spec §3
// "Lifecycle": "An index may be newly added by a migration, which
// proceeds: disabled -> write-only -> online build -> readable"). From
// this point every Insert/Update/Delete maintains it, but Query does not
// consult it until BuildIndex marks it readable.
func (e *Engine) AddIndex(ctx context.Context, typeName string, idx catalog.IndexDescriptor) error {
	idx.State = catalog.StateWriteOnly
	return e.mutateIndexes(ctx, typeName, func(indexes []catalog.IndexDescriptor) []catalog.IndexDescriptor {
		return append(append([]catalog.IndexDescriptor(nil), indexes...), idx)
	})
}

// BuildIndex scans every existing record of typeName under the given
// partition bindings and feeds it through indexName's maintainer via
// ScanForBuild, then marks the index readable. bindings must bind a
// dynamic directory's partition fields explicitly, same as Fetch/Query —
// a partitioned type's online build runs once per partition the caller
// names, since the engine has no way to discover every partition that
// exists without a partition-listing index of its own.
func (e *Engine) BuildIndex(ctx context.Context, typeName, indexName string, bindings directory.Bindings) error {
	def, err := e.typeDef(typeName)
	if err != nil {
		return err
	}
	idx, ok := findIndex(def.Indexes, indexName)
	if !ok {
		return errs.Newf(errs.KindInvalidQuery, "type %q has no index named %q", typeName, indexName)
	}
	m, ok := e.registry.For(idx.Kind)
	if !ok {
		return errs.Newf(errs.KindInvalidQuery, "no maintainer registered for index kind %q", idx.Kind)
	}

	err = e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		sub, err := e.resolveForFetch(typeName, def.Directory, bindings)
		if err != nil {
			return err
		}
		return e.scanAndBuild(ctx, tx, sub, def, m, idx)
	}, txn.DefaultOptions(), nil, nil)
	if err != nil {
		return err
	}
	return e.markReadable(ctx, typeName, indexName)
}

// scanAndBuild walks every record under sub and calls m.ScanForBuild on
// each (spec §4.5 "scan_for_build(record, id, txn) -> () // for online build").
func (e *Engine) scanAndBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, def TypeDef, m index.Maintainer, idx catalog.IndexDescriptor) error {
	prefix := sub.RecordPrefix(def.VT.TypeName)
	end := directory.RangeEnd(prefix)
	it, err := tx.GetRange(ctx, prefix, end, false, 0, false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "scanning records for index build")
	}
	defer it.Close()
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "reading record during index build")
		}
		if !ok {
			return nil
		}
		idKey := kvpair.Key[len(prefix):]
		payload, err := record.Decode(kvpair.Value, &txChunkReader{ctx: ctx, tx: tx})
		if err != nil {
			return err
		}
		rec, err := def.Codec.Unmarshal(payload)
		if err != nil {
			return err
		}
		if err := m.ScanForBuild(ctx, tx, sub, idx, def.VT, idKey, rec); err != nil {
			return err
		}
	}
}

// DropIndex removes indexName from the catalog so neither future writes
// nor queries consult it. It does not clear the index's already-written
// entries: that would require enumerating every partition subspace the
// type's directory template has ever resolved to, which (for a dynamic
// template) this engine has no registry of — left as an operator-driven
// cleanup, not attempted here (see DESIGN.md).
func (e *Engine) DropIndex(ctx context.Context, typeName, indexName string) error {
	return e.mutateIndexes(ctx, typeName, func(indexes []catalog.IndexDescriptor) []catalog.IndexDescriptor {
		out := make([]catalog.IndexDescriptor, 0, len(indexes))
		for _, idx := range indexes {
			if idx.Name != indexName {
				out = append(out, idx)
			}
		}
		return out
	})
}

func findIndex(indexes []catalog.IndexDescriptor, name string) (catalog.IndexDescriptor, bool) {
	for _, idx := range indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return catalog.IndexDescriptor{}, false
}

// mutateIndexes persists transform's result as the type's new index list
// (spec §4.11 "Mutations (add-index, drop-index) invalidate the cache and
// persist the new catalog") and updates the in-process TypeDef to match.
func (e *Engine) mutateIndexes(ctx context.Context, typeName string, transform func([]catalog.IndexDescriptor) []catalog.IndexDescriptor) error {
	def, err := e.typeDef(typeName)
	if err != nil {
		return err
	}
	return e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		key := e.root.CatalogKey(typeName)
		tc, err := e.cat.Get(ctx, tx, key, typeName)
		if err != nil {
			return err
		}
		tc, err = e.cat.MutateIndexes(ctx, tx, key, tc, transform(tc.Indexes))
		if err != nil {
			return err
		}
		def.Indexes = tc.Indexes
		e.mu.Lock()
		e.types[typeName] = def
		e.mu.Unlock()
		return nil
	}, txn.DefaultOptions(), nil, nil)
}

func (e *Engine) markReadable(ctx context.Context, typeName, indexName string) error {
	return e.mutateIndexes(ctx, typeName, func(indexes []catalog.IndexDescriptor) []catalog.IndexDescriptor {
		out := make([]catalog.IndexDescriptor, len(indexes))
		for i, idx := range indexes {
			if idx.Name == indexName {
				idx.State = catalog.StateReadable
			}
			out[i] = idx
		}
		return out
	})
}
