// Package catalog implements the schema catalog (spec C11): a persistent
// per-type catalog of fields, index descriptors, and directory template,
// written idempotently at container creation and served from a
// TTL-guarded in-memory cache.
package catalog

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FieldKind is the logical type declared for a record field.
type FieldKind string

// FieldDescriptor names one field of a persistable type.
type FieldDescriptor struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// IndexKind is the closed set of index kinds (spec §3).
type IndexKind string

const (
	IndexOrdered       IndexKind = "ordered"
	IndexUniqueOrdered IndexKind = "unique_ordered"
	IndexCount         IndexKind = "count"
	IndexSum           IndexKind = "sum"
	IndexMin           IndexKind = "min"
	IndexMax           IndexKind = "max"
	IndexAverage       IndexKind = "average"
	IndexDistinct      IndexKind = "distinct"
	IndexPercentile    IndexKind = "percentile"
	IndexRanked        IndexKind = "ranked"
	IndexLeaderboard   IndexKind = "leaderboard"
	IndexInvertedText  IndexKind = "inverted_text"
	IndexVector        IndexKind = "vector"
	IndexSpatial       IndexKind = "spatial"
	IndexGraph         IndexKind = "graph_adjacency"
	IndexBitmap        IndexKind = "bitmap"
	IndexVersionHistory IndexKind = "version_history"
)

// IndexState tracks an index's lifecycle (spec I5, §3 Lifecycle).
type IndexState string

const (
	StateDisabled  IndexState = "disabled"
	StateWriteOnly IndexState = "write_only"
	StateReadable  IndexState = "readable"
)

// IndexDescriptor describes one secondary index (spec §3).
type IndexDescriptor struct {
	Name         string         `json:"name"`
	Kind         IndexKind      `json:"kind"`
	KeyPaths     []string       `json:"key_paths"`
	StoredFields []string       `json:"stored_fields,omitempty"`
	Unique       bool           `json:"unique"`
	Options      map[string]any `json:"options,omitempty"`
	State        IndexState     `json:"state"`
}

// DirectorySegment is the JSON-serializable form of directory.Segment.
type DirectorySegment struct {
	Static string `json:"static,omitempty"`
	Field  string `json:"field,omitempty"`
}

// TypeCatalog is one type's persisted metadata (spec §6 catalog entry JSON).
type TypeCatalog struct {
	TypeName  string             `json:"type_name"`
	Fields    []FieldDescriptor  `json:"fields"`
	Indexes   []IndexDescriptor  `json:"indexes"`
	Directory []DirectorySegment `json:"directory"`
	IDPath    string             `json:"id_path"`
}

func (t TypeCatalog) DirectoryTemplate() directory.Template {
	tmpl := make(directory.Template, len(t.Directory))
	for i, seg := range t.Directory {
		if seg.Field != "" {
			tmpl[i] = directory.Field(seg.Field)
		} else {
			tmpl[i] = directory.Static(seg.Static)
		}
	}
	return tmpl
}

func (t TypeCatalog) Index(name string) (IndexDescriptor, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDescriptor{}, false
}

type cacheEntry struct {
	catalog TypeCatalog
	expires time.Time
}

// Catalog is the process-wide schema metadata cache (spec §5), TTL-bound
// per spec C11 (default 5 minutes).
type Catalog struct {
	ttl   time.Duration
	cache *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

const DefaultTTL = 5 * time.Minute

func New(ttl time.Duration, size int) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, _ := lru.New[string, cacheEntry](size)
	return &Catalog{ttl: ttl, cache: c, now: time.Now}
}

// Init writes a type's catalog idempotently (version-gated): if an
// identical catalog already exists at the key, the write is a no-op;
// otherwise the new catalog replaces it and the cache entry is invalidated.
func (c *Catalog) Init(ctx context.Context, tx kv.Tx, key []byte, tc TypeCatalog) error {
	existing, err := tx.Get(ctx, key, false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "reading existing catalog")
	}
	encoded, err := json.Marshal(tc)
	if err != nil {
		return errs.Wrap(errs.KindTupleEncoding, err, "encoding type catalog")
	}
	if existing != nil && string(existing) == string(encoded) {
		return nil // idempotent: identical catalog already persisted
	}
	if err := tx.Set(ctx, key, encoded); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "writing type catalog")
	}
	c.invalidate(tc.TypeName)
	return nil
}

// Get serves a type catalog from the TTL cache, falling back to a KV read
// on miss or expiry.
func (c *Catalog) Get(ctx context.Context, tx kv.Tx, key []byte, typeName string) (TypeCatalog, error) {
	if entry, ok := c.cache.Get(typeName); ok && c.now().Before(entry.expires) {
		return entry.catalog, nil
	}
	raw, err := tx.Get(ctx, key, false)
	if err != nil {
		return TypeCatalog{}, errs.Wrap(errs.KindNonRetryableKV, err, "reading type catalog")
	}
	if raw == nil {
		return TypeCatalog{}, errs.Newf(errs.KindInvalidQuery, "no catalog registered for type %q", typeName)
	}
	var tc TypeCatalog
	if err := json.Unmarshal(raw, &tc); err != nil {
		return TypeCatalog{}, errs.Wrap(errs.KindTupleEncoding, err, "decoding type catalog")
	}
	c.cache.Add(typeName, cacheEntry{catalog: tc, expires: c.now().Add(c.ttl)})
	return tc, nil
}

// MutateIndexes persists a new set of indexes (add-index/drop-index) and
// invalidates the cache immediately (spec §4.11).
func (c *Catalog) MutateIndexes(ctx context.Context, tx kv.Tx, key []byte, tc TypeCatalog, indexes []IndexDescriptor) (TypeCatalog, error) {
	tc.Indexes = indexes
	encoded, err := json.Marshal(tc)
	if err != nil {
		return TypeCatalog{}, errs.Wrap(errs.KindTupleEncoding, err, "encoding mutated type catalog")
	}
	if err := tx.Set(ctx, key, encoded); err != nil {
		return TypeCatalog{}, errs.Wrap(errs.KindNonRetryableKV, err, "writing mutated type catalog")
	}
	c.invalidate(tc.TypeName)
	return tc, nil
}

func (c *Catalog) invalidate(typeName string) {
	c.cache.Remove(typeName)
}
