package directory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/tuple"
)

func TestStaticTemplateCachedByPath(t *testing.T) {
	r := NewResolver([]byte("root\x00"), 16)
	tmpl := Template{Static("tenants"), Static("orders")}

	s1, err := r.Resolve("Order", tmpl, Bindings{})
	require.NoError(t, err)
	s2, err := r.Resolve("Order", tmpl, Bindings{})
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestDynamicTemplateRequiresBinding(t *testing.T) {
	r := NewResolver([]byte("root\x00"), 16)
	tmpl := Template{Static("tenants"), Field("tenantId"), Static("orders")}

	require.ErrorIs(t, RequireExplicitBinding(tmpl, nil), errs.PartitionRequired(nil))

	_, err := r.Resolve("Order", tmpl, Bindings{})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindMissingPartitionFields, e.Kind)
}

func TestDynamicTemplateResolvesWithBinding(t *testing.T) {
	r := NewResolver([]byte("root\x00"), 16)
	tmpl := Template{Static("tenants"), Field("tenantId"), Static("orders")}

	bindT1 := Bindings{"tenantId": tuple.StringVal("t1")}
	sub1, err := r.Resolve("Order", tmpl, bindT1)
	require.NoError(t, err)

	bindT2 := Bindings{"tenantId": tuple.StringVal("t2")}
	sub2, err := r.Resolve("Order", tmpl, bindT2)
	require.NoError(t, err)

	require.NotEqual(t, sub1.Prefix, sub2.Prefix)

	sub1Again, err := r.Resolve("Order", tmpl, bindT1)
	require.NoError(t, err)
	require.Equal(t, sub1, sub1Again)
}

func TestRangeEnd(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x01}, RangeEnd([]byte{0x01, 0x00}))
	require.Nil(t, RangeEnd([]byte{0xff, 0xff}))
}
