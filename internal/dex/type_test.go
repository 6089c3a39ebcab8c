package dex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeInterning(t *testing.T) {
	ctx := NewContext()
	a := ctx.Type("Ljava/lang/Object;")
	b := ctx.Type("Ljava/lang/Object;")
	require.Same(t, a, b)
	require.NotSame(t, a, ctx.Type("Ljava/lang/String;"))

	require.True(t, ctx.Type("V").IsVoid())
	require.False(t, ctx.Type("I").IsVoid())
	require.True(t, a.IsReference())
	require.True(t, ctx.Type("[I").IsReference())
	require.False(t, ctx.Type("I").IsReference())
}

func TestTypeListInterning(t *testing.T) {
	ctx := NewContext()
	i := ctx.Type("I")
	o := ctx.Type("Ljava/lang/Object;")

	a := ctx.TypeList(i, o)
	b := ctx.TypeList(i, o)
	require.Same(t, a, b)
	require.NotSame(t, a, ctx.TypeList(o, i))
	require.Equal(t, 2, a.Len())
	require.Same(t, i, a.At(0))

	empty := ctx.TypeList()
	require.Same(t, empty, ctx.TypeList())
	require.Equal(t, 0, empty.Len())
}

func TestProtoInterning(t *testing.T) {
	ctx := NewContext()
	i := ctx.Type("I")
	v := ctx.Type("V")

	a := ctx.Proto(v, ctx.TypeList(i))
	b := ctx.Proto(v, ctx.TypeList(i))
	require.Same(t, a, b)
	require.Equal(t, "(I)V", a.String())
	require.True(t, a.IsVoid())

	c := ctx.Proto(i, ctx.TypeList())
	require.Equal(t, "()I", c.String())
	require.False(t, c.IsVoid())
}
