package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/kv/kvbolt"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

type user struct {
	id    string
	email string
}

func userVTable() *model.TypeVTable {
	return model.NewTypeVTable("User", "id",
		model.FieldEntry{Name: "id", Extract: func(r any) (tuple.Value, bool) {
			u, ok := r.(*user)
			if !ok || u == nil {
				return tuple.Value{}, false
			}
			return tuple.StringVal(u.id), true
		}},
		model.FieldEntry{Name: "email", Extract: func(r any) (tuple.Value, bool) {
			u, ok := r.(*user)
			if !ok || u == nil {
				return tuple.Value{}, false
			}
			return tuple.StringVal(u.email), true
		}},
	)
}

func idKeyOf(t *testing.T, vt *model.TypeVTable, rec any) []byte {
	t.Helper()
	v, err := vt.ID(rec)
	require.NoError(t, err)
	b, err := tuple.Encode(nil, v)
	require.NoError(t, err)
	return b
}

func TestUniqueIndexInsertThenDuplicate(t *testing.T) {
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "idx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sub := directory.Subspace{Prefix: []byte("S\x00")}
	vt := userVTable()
	desc := catalog.IndexDescriptor{Name: "User_email", Kind: catalog.IndexUniqueOrdered, KeyPaths: []string{"email"}, Unique: true}
	m := &OrderedMaintainer{Unique: true}
	ctx := context.Background()

	u1 := &user{id: "u1", email: "a@x"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, u1), nil, u1)
	})
	require.NoError(t, err)

	u2 := &user{id: "u2", email: "a@x"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, idKeyOf(t, vt, u2), nil, u2)
	})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindUniquenessViolation, e.Kind)
	require.Equal(t, "email", e.Context["field"])
	require.Equal(t, "u1", e.Context["existing_id"])
}

func TestOrderedIndexDiffOnUpdate(t *testing.T) {
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "idx2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sub := directory.Subspace{Prefix: []byte("S\x00")}
	vt := userVTable()
	desc := catalog.IndexDescriptor{Name: "User_email", Kind: catalog.IndexOrdered, KeyPaths: []string{"email"}}
	m := &OrderedMaintainer{}
	ctx := context.Background()

	u := &user{id: "u1", email: "old@x"}
	id := idKeyOf(t, vt, u)
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, id, nil, u)
	})

	updated := &user{id: "u1", email: "new@x"}
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, id, u, updated)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		oldValueTuple, _, _ := keyPathValues(vt, desc, u)
		v, err := tx.Get(ctx, indexEntryKey(sub, desc.Name, oldValueTuple, id), false)
		require.NoError(t, err)
		require.Nil(t, v)

		newValueTuple, _, _ := keyPathValues(vt, desc, updated)
		v, err = tx.Get(ctx, indexEntryKey(sub, desc.Name, newValueTuple, id), false)
		require.NoError(t, err)
		require.NotNil(t, v)
		return nil
	})
	require.NoError(t, err)
}

func TestOrderedIndexDeleteClearsEntry(t *testing.T) {
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "idx3.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sub := directory.Subspace{Prefix: []byte("S\x00")}
	vt := userVTable()
	desc := catalog.IndexDescriptor{Name: "User_email", Kind: catalog.IndexOrdered, KeyPaths: []string{"email"}}
	m := &OrderedMaintainer{}
	ctx := context.Background()

	u := &user{id: "u1", email: "a@x"}
	id := idKeyOf(t, vt, u)
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, id, nil, u)
	})
	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return m.Update(ctx, tx, sub, desc, vt, id, u, nil)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		valueTuple, _, _ := keyPathValues(vt, desc, u)
		v, err := tx.Get(ctx, indexEntryKey(sub, desc.Name, valueTuple, id), false)
		require.NoError(t, err)
		require.Nil(t, v)
		return nil
	})
	require.NoError(t, err)
}
