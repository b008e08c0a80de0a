package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv/kvbolt"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/planner"
	"github.com/ixdb/ixdb/tuple"
)

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func userVTable() *model.TypeVTable {
	return model.NewTypeVTable("User", "ID",
		model.FieldEntry{Name: "ID", Extract: func(rec any) (tuple.Value, bool) {
			u := rec.(*user)
			return tuple.StringVal(u.ID), u.ID != ""
		}},
		model.FieldEntry{Name: "email", Extract: func(rec any) (tuple.Value, bool) {
			u := rec.(*user)
			return tuple.StringVal(u.Email), u.Email != ""
		}},
	)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := kvbolt.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, []byte("S\x00"), nil, nil)
}

func registerUserType(t *testing.T, e *Engine, indexes []catalog.IndexDescriptor) {
	t.Helper()
	err := e.RegisterType(context.Background(), "User", TypeDef{
		VT:        userVTable(),
		Fields:    []catalog.FieldDescriptor{{Name: "ID", Kind: "string"}, {Name: "email", Kind: "string"}},
		Directory: directory.Template{directory.Static("users")},
		Indexes:   indexes,
		Codec:     JSONCodec{New: func() any { return &user{} }},
	})
	require.NoError(t, err)
}

func uniqueEmailIndex() catalog.IndexDescriptor {
	return catalog.IndexDescriptor{
		Name:     "User_email",
		Kind:     catalog.IndexUniqueOrdered,
		KeyPaths: []string{"email"},
		Unique:   true,
		State:    catalog.StateReadable,
	}
}

// scenario 1 (spec §8): unique index insert then duplicate.
func TestInsertThenDuplicateEmailFailsUnique(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, []catalog.IndexDescriptor{uniqueEmailIndex()})
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "a@x"}))

	err := e.Insert(ctx, "User", &user{ID: "u2", Email: "a@x"})
	require.Error(t, err)
	var ixErr *errs.Error
	require.ErrorAs(t, err, &ixErr)
	require.Equal(t, errs.KindUniquenessViolation, ixErr.Kind)
	require.Equal(t, "u1", ixErr.Context["existing_id"])
}

func TestFetchRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, nil)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "a@x"}))

	rec, err := e.Fetch(ctx, "User", nil, tuple.StringVal("u1"))
	require.NoError(t, err)
	require.Equal(t, &user{ID: "u1", Email: "a@x"}, rec)
}

func TestFetchMissingReturnsNil(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, nil)

	rec, err := e.Fetch(context.Background(), "User", nil, tuple.StringVal("nope"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestUpdateReplacesRecordAndMaintainsIndex(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, []catalog.IndexDescriptor{uniqueEmailIndex()})
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "a@x"}))
	require.NoError(t, e.Update(ctx, "User", &user{ID: "u1", Email: "b@x"}))

	rec, err := e.Fetch(ctx, "User", nil, tuple.StringVal("u1"))
	require.NoError(t, err)
	require.Equal(t, "b@x", rec.(*user).Email)

	// the freed "a@x" key is no longer unique-bound, so a second user may
	// now take it.
	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u2", Email: "a@x"}))
}

func TestDeleteRemovesRecordAndFreesUniqueKey(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, []catalog.IndexDescriptor{uniqueEmailIndex()})
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "a@x"}))
	require.NoError(t, e.Delete(ctx, "User", nil, tuple.StringVal("u1")))

	rec, err := e.Fetch(ctx, "User", nil, tuple.StringVal("u1"))
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u2", Email: "a@x"}))
}

func TestDeleteOfMissingRecordIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, nil)
	require.NoError(t, e.Delete(context.Background(), "User", nil, tuple.StringVal("nope")))
}

// scenario 3 (spec §8): point lookup uses index seek.
func TestQueryByEmailUsesIndexSeek(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, []catalog.IndexDescriptor{uniqueEmailIndex()})
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "alice@example.com"}))
	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u2", Email: "bob@example.com"}))

	q := planner.Query{
		Clauses: [][]planner.Predicate{{{
			Field: planner.Field{"email"},
			Op:    planner.OpEq,
			Eq:    tuple.StringVal("alice@example.com"),
		}}},
	}
	items, err := e.Query(ctx, "User", nil, q, planner.Stats{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	// email is itself the index's only key-path, so the plan answers
	// without a record fetch (planner.indexCoversFields): the id alone
	// round-trips the match.
	ids, err := tuple.Decode(items[0].ID)
	require.NoError(t, err)
	require.Equal(t, "u1", ids[0].Str)
}

// scenario 6 (spec §8): partitioned directory requires binding.
func TestPartitionedDirectoryRequiresBinding(t *testing.T) {
	e := newTestEngine(t)
	err := e.RegisterType(context.Background(), "Order", TypeDef{
		VT: model.NewTypeVTable("Order", "ID",
			model.FieldEntry{Name: "ID", Extract: func(rec any) (tuple.Value, bool) {
				o := rec.(*order)
				return tuple.StringVal(o.ID), o.ID != ""
			}},
			model.FieldEntry{Name: "tenantId", Extract: func(rec any) (tuple.Value, bool) {
				o := rec.(*order)
				return tuple.StringVal(o.TenantID), o.TenantID != ""
			}},
		),
		Fields:    []catalog.FieldDescriptor{{Name: "ID", Kind: "string"}, {Name: "tenantId", Kind: "string"}},
		Directory: directory.Template{directory.Static("tenants"), directory.Field("tenantId"), directory.Static("orders")},
		Codec:     JSONCodec{New: func() any { return &order{} }},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "Order", &order{ID: "o1", TenantID: "t1"}))

	_, err = e.Fetch(ctx, "Order", nil, tuple.StringVal("o1"))
	require.Error(t, err)
	var ixErr *errs.Error
	require.ErrorAs(t, err, &ixErr)
	require.Equal(t, errs.KindPartitionRequired, ixErr.Kind)

	rec, err := e.Fetch(ctx, "Order", directory.Bindings{"tenantId": tuple.StringVal("t1")}, tuple.StringVal("o1"))
	require.NoError(t, err)
	require.Equal(t, "o1", rec.(*order).ID)
}

type order struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
}

func TestBuildIndexMakesExistingRecordsReadable(t *testing.T) {
	e := newTestEngine(t)
	registerUserType(t, e, nil)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "User", &user{ID: "u1", Email: "alice@example.com"}))

	idx := catalog.IndexDescriptor{Name: "User_email_ord", Kind: catalog.IndexOrdered, KeyPaths: []string{"email"}}
	require.NoError(t, e.AddIndex(ctx, "User", idx))

	q := planner.Query{Clauses: [][]planner.Predicate{{{
		Field: planner.Field{"email"}, Op: planner.OpEq, Eq: tuple.StringVal("alice@example.com"),
	}}}}
	// the index is write-only until built: the planner falls back to a full scan.
	items, err := e.Query(ctx, "User", nil, q, planner.Stats{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, e.BuildIndex(ctx, "User", "User_email_ord", nil))
	plan, err := planner.Select(q, readableIndexes(mustTypeDef(t, e, "User").Indexes), planner.Stats{})
	require.NoError(t, err)
	require.Equal(t, planner.KindIndexSeek, plan.Kind)
}

func mustTypeDef(t *testing.T, e *Engine, typeName string) TypeDef {
	t.Helper()
	def, err := e.typeDef(typeName)
	require.NoError(t, err)
	return def
}
