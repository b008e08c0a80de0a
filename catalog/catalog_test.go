package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/kv/kvbolt"
)

func openStore(t *testing.T) *kvbolt.Store {
	t.Helper()
	s, err := kvbolt.Open(filepath.Join(t.TempDir(), "cat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleCatalog() TypeCatalog {
	return TypeCatalog{
		TypeName: "User",
		Fields:   []FieldDescriptor{{Name: "email", Kind: "string"}},
		Indexes: []IndexDescriptor{
			{Name: "User_email", Kind: IndexUniqueOrdered, KeyPaths: []string{"email"}, Unique: true, State: StateReadable},
		},
		IDPath: "id",
	}
}

func TestInitIsIdempotent(t *testing.T) {
	store := openStore(t)
	cat := New(time.Minute, 16)
	key := []byte("_catalog/User")
	ctx := context.Background()

	var writes int
	for i := 0; i < 3; i++ {
		err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
			before, _ := tx.Get(ctx, key, false)
			err := cat.Init(ctx, tx, key, sampleCatalog())
			after, _ := tx.Get(ctx, key, false)
			if string(before) != string(after) {
				writes++
			}
			return err
		})
		require.NoError(t, err)
	}
	require.Equal(t, 1, writes)
}

func TestGetServesFromCacheUntilTTL(t *testing.T) {
	store := openStore(t)
	cat := New(10*time.Millisecond, 16)
	now := time.Now()
	cat.now = func() time.Time { return now }
	key := []byte("_catalog/User")
	ctx := context.Background()

	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return cat.Init(ctx, tx, key, sampleCatalog())
	})

	var got TypeCatalog
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		var err error
		got, err = cat.Get(ctx, tx, key, "User")
		return err
	})
	require.Equal(t, "User", got.TypeName)

	// mutate the stored bytes directly to prove the next Get is served from cache
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, key, []byte("corrupt"))
	})
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		var err error
		got, err = cat.Get(ctx, tx, key, "User")
		return err
	})
	require.NoError(t, nil)
	require.Equal(t, "User", got.TypeName) // still cached, not the corrupted bytes

	now = now.Add(20 * time.Millisecond)
	err := store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		_, err := cat.Get(ctx, tx, key, "User")
		return err
	})
	require.Error(t, err) // TTL expired, cache miss hits the corrupted bytes
}

func TestMutateIndexesInvalidatesCache(t *testing.T) {
	store := openStore(t)
	cat := New(time.Minute, 16)
	key := []byte("_catalog/User")
	ctx := context.Background()

	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		return cat.Init(ctx, tx, key, sampleCatalog())
	})
	var tc TypeCatalog
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		var err error
		tc, err = cat.Get(ctx, tx, key, "User")
		return err
	})

	newIndexes := append(tc.Indexes, IndexDescriptor{Name: "User_created", Kind: IndexOrdered, KeyPaths: []string{"created"}})
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		_, err := cat.MutateIndexes(ctx, tx, key, tc, newIndexes)
		return err
	})

	var refreshed TypeCatalog
	_ = store.Transact(ctx, func(ctx context.Context, tx kv.Tx) error {
		var err error
		refreshed, err = cat.Get(ctx, tx, key, "User")
		return err
	})
	require.Len(t, refreshed.Indexes, 2)
}
