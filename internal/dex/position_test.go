package dex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPosTableReplaceParents(t *testing.T) {
	tbl := NewPosTable()
	outer := tbl.New(10)
	inlined := tbl.New(20)
	inlined.SetParent(outer.ID())
	sibling := tbl.New(30)
	sibling.SetParent(outer.ID())
	other := tbl.New(40)

	replacement := tbl.New(11)
	tbl.ReplaceParents(map[PosID]PosID{outer.ID(): replacement.ID()})
	tbl.Remove(outer.ID())

	require.Equal(t, replacement.ID(), inlined.Parent())
	require.Equal(t, replacement.ID(), sibling.Parent())
	require.Zero(t, other.Parent())
	require.Nil(t, tbl.Get(outer.ID()))
	require.Same(t, replacement, tbl.Get(replacement.ID()))
}

func TestPosTableReplaceParentsClears(t *testing.T) {
	tbl := NewPosTable()
	parent := tbl.New(5)
	child := tbl.New(6)
	child.SetParent(parent.ID())

	tbl.ReplaceParents(map[PosID]PosID{parent.ID(): 0})
	require.Zero(t, child.Parent())
}

func TestCodeRemoveInsn(t *testing.T) {
	code := NewCode(2)
	a := NewConst(0, 1)
	b := NewConst(1, 2)
	code.AddInsn(a).AddInsn(b).AddInsn(NewReturnVoid())

	require.True(t, code.RemoveInsn(b))
	require.False(t, code.RemoveInsn(b))

	insns := code.Instructions()
	require.Len(t, insns, 2)
	require.Same(t, a, insns[0])
	require.Equal(t, OpReturnVoid, insns[1].Op())
}
