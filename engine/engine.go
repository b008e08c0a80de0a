// Package engine wires the lower-level components — directory resolution
// (C2), the record envelope (C3), the transaction runtime (C4), index
// maintainer dispatch (C5-C8), the query planner (C9), the plan executor
// (C10), and the schema catalog (C11) — into the operations an
// application actually calls: RegisterType, Insert, Update, Delete,
// Fetch, Query, and the index-migration lifecycle (spec §3 "Lifecycle").
package engine

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/executor"
	"github.com/ixdb/ixdb/index"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/metrics"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/record"
	"github.com/ixdb/ixdb/tuple"
	"github.com/ixdb/ixdb/txn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec serializes and deserializes one type's application record. This
// is the pluggable envelope payload format spec §1 leaves out of scope;
// engine only supplies a JSON default (JSONCodec below) and stores
// whatever bytes Marshal returns inside record.Encode's framing.
type Codec interface {
	Marshal(rec any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONCodec is the default Codec, built on the same jsoniter library
// package catalog already uses for catalog-entry JSON. New must return a
// fresh pointer to the target type (e.g. func() any { return new(Order) })
// for Unmarshal to decode into.
type JSONCodec struct {
	New func() any
}

func (c JSONCodec) Marshal(rec any) ([]byte, error) {
	return json.Marshal(rec)
}

func (c JSONCodec) Unmarshal(data []byte) (any, error) {
	target := c.New()
	if err := json.Unmarshal(data, target); err != nil {
		return nil, errs.Wrap(errs.KindTupleEncoding, err, "decoding JSON record payload")
	}
	return target, nil
}

// TypeDef is everything engine needs to know about one persistable type
// (spec §3 "Persistable type"), supplied once via RegisterType.
type TypeDef struct {
	VT        *model.TypeVTable
	Fields    []catalog.FieldDescriptor
	Directory directory.Template
	Indexes   []catalog.IndexDescriptor
	Codec     Codec
}

// Engine is the top-level, explicitly-constructed service object (spec
// §9: avoid singletons) a caller builds once per backing kv.Store and
// shares across requests.
type Engine struct {
	txnEngine *txn.Engine
	resolver  *directory.Resolver
	cat       *catalog.Catalog
	registry  *index.Registry

	// root is a fixed subspace, distinct from any per-partition subspace a
	// type's directory template resolves to, used only for catalog/meta
	// keys: a type's schema is process-wide metadata, not something that
	// should be duplicated once per partition (spec §3's keyspace layout
	// names S/_catalog/<TypeName> within "a resolved subspace S" without
	// saying which one; for a partitioned type there is no single natural
	// S, so engine anchors catalog/meta at a dedicated root subspace
	// instead — see DESIGN.md).
	root directory.Subspace

	mu    sync.RWMutex
	types map[string]TypeDef
}

// New constructs an Engine over store, rooted at root (the key prefix
// everything — including the catalog's own root subspace — resolves
// under). logger/m may be nil (txn.NewEngine supplies no-op defaults).
func New(store kv.Store, root []byte, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		txnEngine: txn.NewEngine(store, logger, m),
		resolver:  directory.NewResolver(root, 4096),
		cat:       catalog.New(catalog.DefaultTTL, 4096),
		registry:  index.NewDefaultRegistry(),
		root:      directory.Subspace{Prefix: append([]byte{}, root...)},
		types:     map[string]TypeDef{},
	}
}

// RegisterType persists typeName's catalog entry idempotently (spec §3
// "A type catalog is written once at container initialization, idempotent,
// version-gated") and makes def available to every later operation on
// typeName in this process.
func (e *Engine) RegisterType(ctx context.Context, typeName string, def TypeDef) error {
	tc := catalog.TypeCatalog{
		TypeName:  typeName,
		Fields:    def.Fields,
		Indexes:   def.Indexes,
		Directory: directorySegments(def.Directory),
		IDPath:    def.VT.IDField,
	}
	err := e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		return e.cat.Init(ctx, tx, e.root.CatalogKey(typeName), tc)
	}, txn.DefaultOptions(), nil, nil)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.types[typeName] = def
	e.mu.Unlock()
	return nil
}

func (e *Engine) typeDef(typeName string) (TypeDef, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.types[typeName]
	if !ok {
		return TypeDef{}, errs.Newf(errs.KindInvalidQuery, "no type registered named %q", typeName)
	}
	return def, nil
}

func directorySegments(tmpl directory.Template) []catalog.DirectorySegment {
	out := make([]catalog.DirectorySegment, len(tmpl))
	for i, seg := range tmpl {
		if seg.Field != "" {
			out[i] = catalog.DirectorySegment{Field: seg.Field}
		} else {
			out[i] = catalog.DirectorySegment{Static: seg.Static}
		}
	}
	return out
}

// resolveForRecord extracts whatever partition fields rec carries and
// resolves its subspace (spec §4.2 "a save operation extracts partition
// values from the record instance").
func (e *Engine) resolveForRecord(typeName string, tmpl directory.Template, rec any, vt *model.TypeVTable) (directory.Subspace, error) {
	bindings := directory.Bindings{}
	for _, f := range tmpl.RequiredFields() {
		v, present, err := vt.Get(rec, f)
		if err != nil {
			return directory.Subspace{}, err
		}
		if present {
			bindings[f] = v
		}
	}
	return e.resolver.Resolve(typeName, tmpl, bindings)
}

// resolveForFetch requires the caller to have bound every partition field
// explicitly (spec §4.2 "a fetch requires the caller to explicitly bind
// partition values").
func (e *Engine) resolveForFetch(typeName string, tmpl directory.Template, bindings directory.Bindings) (directory.Subspace, error) {
	if err := directory.RequireExplicitBinding(tmpl, bindings); err != nil {
		return directory.Subspace{}, err
	}
	return e.resolver.Resolve(typeName, tmpl, bindings)
}

func recordKey(sub directory.Subspace, typeName string, idKey []byte) []byte {
	return append(append([]byte{}, sub.RecordPrefix(typeName)...), idKey...)
}

// fetchDecoded reads and decodes the record at recKey, returning (nil,
// nil) if it does not exist.
func (e *Engine) fetchDecoded(ctx context.Context, tx kv.Tx, recKey []byte, def TypeDef) (any, error) {
	envelope, err := tx.Get(ctx, recKey, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading record envelope")
	}
	if envelope == nil {
		return nil, nil
	}
	payload, err := record.Decode(envelope, &txChunkReader{ctx: ctx, tx: tx})
	if err != nil {
		return nil, err
	}
	return def.Codec.Unmarshal(payload)
}

// save is the shared core of Insert and Update: both are key-preserving
// writes that fetch the prior record (if any) and hand (old, new) to
// every index maintainer (spec §3 "Lifecycle": "Records are created by
// insert, replaced by update (key-preserving), removed by delete; each
// transition calls the maintainer").
func (e *Engine) save(ctx context.Context, typeName string, rec any) error {
	def, err := e.typeDef(typeName)
	if err != nil {
		return err
	}
	return e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		sub, err := e.resolveForRecord(typeName, def.Directory, rec, def.VT)
		if err != nil {
			return err
		}
		idVal, err := def.VT.ID(rec)
		if err != nil {
			return err
		}
		idKey, err := tuple.Encode(nil, idVal)
		if err != nil {
			return errs.Wrap(errs.KindTupleEncoding, err, "encoding record id")
		}
		recKey := recordKey(sub, typeName, idKey)

		old, err := e.fetchDecoded(ctx, tx, recKey, def)
		if err != nil {
			return err
		}

		payload, err := def.Codec.Marshal(rec)
		if err != nil {
			return errs.Wrap(errs.KindTupleEncoding, err, "marshaling record payload")
		}
		blobBase := append(append([]byte{}, sub.BlobPrefix()...), idKey...)
		envelope, err := record.Encode(payload, &txChunkWriter{ctx: ctx, tx: tx, base: blobBase})
		if err != nil {
			return err
		}
		if err := tx.Set(ctx, recKey, envelope); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing record envelope")
		}

		return e.updateIndexes(ctx, tx, sub, def, idKey, old, rec)
	}, txn.DefaultOptions(), nil, nil)
}

// Insert creates rec, maintaining every index for typeName (spec §3, §8
// scenario 1 — a unique index's maintainer raises UniquenessViolation on a
// colliding value).
func (e *Engine) Insert(ctx context.Context, typeName string, rec any) error {
	return e.save(ctx, typeName, rec)
}

// Update replaces the record at rec's own id (key-preserving).
func (e *Engine) Update(ctx context.Context, typeName string, rec any) error {
	return e.save(ctx, typeName, rec)
}

// Delete removes the record identified by id within the subspace bindings
// resolves to, clearing its envelope (and blob chunks, if any) and
// running every maintainer with new==nil. bindings may be nil for a
// statically-directoried type.
func (e *Engine) Delete(ctx context.Context, typeName string, bindings directory.Bindings, id tuple.Value) error {
	def, err := e.typeDef(typeName)
	if err != nil {
		return err
	}
	return e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		sub, err := e.resolveForFetch(typeName, def.Directory, bindings)
		if err != nil {
			return err
		}
		idKey, err := tuple.Encode(nil, id)
		if err != nil {
			return errs.Wrap(errs.KindTupleEncoding, err, "encoding record id")
		}
		recKey := recordKey(sub, typeName, idKey)

		envelope, err := tx.Get(ctx, recKey, false)
		if err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "reading record envelope for delete")
		}
		if envelope == nil {
			return nil // deleting a record that doesn't exist is a no-op
		}
		payload, err := record.Decode(envelope, &txChunkReader{ctx: ctx, tx: tx})
		if err != nil {
			return err
		}
		old, err := def.Codec.Unmarshal(payload)
		if err != nil {
			return err
		}

		if err := record.Delete(envelope, &txChunkDeleter{ctx: ctx, tx: tx}); err != nil {
			return err
		}
		if err := tx.Clear(ctx, recKey); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "clearing record envelope")
		}
		return e.updateIndexes(ctx, tx, sub, def, idKey, old, nil)
	}, txn.DefaultOptions(), nil, nil)
}

// Fetch loads one record by id. bindings must explicitly bind every
// partition field a dynamic directory template requires (spec §4.2,
// §8 scenario 6), or resolution fails with PartitionRequired.
func (e *Engine) Fetch(ctx context.Context, typeName string, bindings directory.Bindings, id tuple.Value) (any, error) {
	def, err := e.typeDef(typeName)
	if err != nil {
		return nil, err
	}
	var rec any
	err = e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		sub, err := e.resolveForFetch(typeName, def.Directory, bindings)
		if err != nil {
			return err
		}
		idKey, err := tuple.Encode(nil, id)
		if err != nil {
			return errs.Wrap(errs.KindTupleEncoding, err, "encoding record id")
		}
		rec, err = e.fetchDecoded(ctx, tx, recordKey(sub, typeName, idKey), def)
		return err
	}, txn.DefaultOptions(), nil, nil)
	return rec, err
}

// Query plans and executes q against typeName's readable indexes (spec
// §4.9 + §4.10), fetching full records for any plan node that requested
// them. stats supplies cardinality estimates to the cost model; a zero
// Stats falls back to the spec's fixed defaults.
func (e *Engine) Query(ctx context.Context, typeName string, bindings directory.Bindings, q planner.Query, stats planner.Stats) ([]executor.Item, error) {
	def, err := e.typeDef(typeName)
	if err != nil {
		return nil, err
	}
	q.TypeName = typeName
	plan, err := planner.Select(q, readableIndexes(def.Indexes), stats)
	if err != nil {
		return nil, err
	}

	var items []executor.Item
	err = e.txnEngine.Run(ctx, func(ctx context.Context, tx kv.Tx) error {
		sub, err := e.resolveForFetch(typeName, def.Directory, bindings)
		if err != nil {
			return err
		}
		env := executor.Env{
			Sub:     sub,
			VT:      def.VT,
			Indexes: indexMap(def.Indexes),
			Fetch: func(ctx context.Context, tx kv.Tx, idKey []byte) (any, error) {
				return e.fetchDecoded(ctx, tx, recordKey(sub, typeName, idKey), def)
			},
		}
		items, err = executor.Execute(ctx, tx, plan, env)
		return err
	}, txn.DefaultOptions(), nil, nil)
	return items, err
}

func readableIndexes(indexes []catalog.IndexDescriptor) []catalog.IndexDescriptor {
	out := make([]catalog.IndexDescriptor, 0, len(indexes))
	for _, idx := range indexes {
		if idx.State == catalog.StateReadable {
			out = append(out, idx)
		}
	}
	return out
}

func indexMap(indexes []catalog.IndexDescriptor) map[string]catalog.IndexDescriptor {
	m := make(map[string]catalog.IndexDescriptor, len(indexes))
	for _, idx := range indexes {
		m[idx.Name] = idx
	}
	return m
}

// updateIndexes dispatches one (old, new) transition to every non-disabled
// index's maintainer (spec I5: write-only indexes still receive writes).
func (e *Engine) updateIndexes(ctx context.Context, tx kv.Tx, sub directory.Subspace, def TypeDef, idKey []byte, old, new any) error {
	for _, idx := range def.Indexes {
		if idx.State == catalog.StateDisabled {
			continue
		}
		m, ok := e.registry.For(idx.Kind)
		if !ok {
			return errs.Newf(errs.KindInvalidQuery, "no maintainer registered for index kind %q", idx.Kind)
		}
		if err := m.Update(ctx, tx, sub, idx, def.VT, idKey, old, new); err != nil {
			return err
		}
	}
	return nil
}

// chunkKey derives one blob chunk's physical key from a base (sub's blob
// prefix plus the owning record's id) and sequence number.
func chunkKey(base []byte, seq int) []byte {
	enc, _ := tuple.Encode(nil, tuple.IntVal(int64(seq)))
	return append(append([]byte{}, base...), enc...)
}

// txChunkWriter/txChunkReader/txChunkDeleter adapt a live kv.Tx to package
// record's ChunkWriter/ChunkReader/ChunkDeleter contracts (spec §4.3), so
// oversize record payloads spill into S/B/<blob-key>/<seq> within the same
// transaction as the record write.
type txChunkWriter struct {
	ctx  context.Context
	tx   kv.Tx
	base []byte
}

func (w *txChunkWriter) WriteChunk(seq int, data []byte) ([]byte, error) {
	key := chunkKey(w.base, seq)
	if err := w.tx.Set(w.ctx, key, data); err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "writing blob chunk")
	}
	return key, nil
}

type txChunkReader struct {
	ctx context.Context
	tx  kv.Tx
}

func (r *txChunkReader) ReadChunk(key []byte) ([]byte, error) {
	v, err := r.tx.Get(r.ctx, key, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading blob chunk")
	}
	return v, nil
}

type txChunkDeleter struct {
	ctx context.Context
	tx  kv.Tx
}

func (d *txChunkDeleter) DeleteChunk(key []byte) error {
	if err := d.tx.Clear(d.ctx, key); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "clearing blob chunk")
	}
	return nil
}
