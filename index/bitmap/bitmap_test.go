package bitmap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/kv/kvbolt"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

type flag struct {
	id     string
	status string
}

func flagVTable() *model.TypeVTable {
	return model.NewTypeVTable("Flag", "id",
		model.FieldEntry{Name: "id", Extract: func(r any) (tuple.Value, bool) {
			f := r.(*flag)
			return tuple.StringVal(f.id), true
		}},
		model.FieldEntry{Name: "status", Extract: func(r any) (tuple.Value, bool) {
			f := r.(*flag)
			return tuple.StringVal(f.status), true
		}},
	)
}

func TestBitmapMaintainerAddRemoveAndMove(t *testing.T) {
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "bitmap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sub := directory.Subspace{Prefix: []byte("S\x00")}
	vt := flagVTable()
	desc := catalog.IndexDescriptor{Name: "Flag_status_bitmap", Kind: catalog.IndexBitmap, Options: map[string]any{"field": "status"}}
	m := &Maintainer{}
	ctx := context.Background()

	f1 := &flag{id: "f1", status: "open"}
	f2 := &flag{id: "f2", status: "open"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		if err := m.Update(ctx, tx, sub, desc, vt, []byte(f1.id), nil, f1); err != nil {
			return err
		}
		return m.Update(ctx, tx, sub, desc, vt, []byte(f2.id), nil, f2)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		bm, err := Lookup(ctx, tx, sub, desc, tuple.StringVal("open"))
		require.NoError(t, err)
		require.Equal(t, uint64(2), bm.GetCardinality())
		require.True(t, bm.Contains(id32([]byte(f1.id))))
		require.True(t, bm.Contains(id32([]byte(f2.id))))
		return nil
	})
	require.NoError(t, err)

	closed := &flag{id: "f1", status: "closed"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, []byte(f1.id), f1, closed)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		open, err := Lookup(ctx, tx, sub, desc, tuple.StringVal("open"))
		require.NoError(t, err)
		require.Equal(t, uint64(1), open.GetCardinality())
		require.False(t, open.Contains(id32([]byte(f1.id))))

		closedBM, err := Lookup(ctx, tx, sub, desc, tuple.StringVal("closed"))
		require.NoError(t, err)
		require.Equal(t, uint64(1), closedBM.GetCardinality())
		require.True(t, closedBM.Contains(id32([]byte(f1.id))))
		return nil
	})
	require.NoError(t, err)
}
