package dataflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

func TestReachingDefsMoveAware(t *testing.T) {
	code := dex.NewCode(3)
	def := dex.NewConst(0, 7)
	code.AddInsn(def).
		AddInsn(dex.NewMove(1, 0)).
		AddInsn(dex.NewMove(2, 1)).
		AddInsn(dex.NewReturnVoid())
	g := cfg.Build(code)

	reach := RunReachingDefs(g)
	env := reach.EntryStateAt(g.Entry())
	g.Entry().ForEachInsn(func(i *dex.Instruction) {
		reach.AnalyzeInstruction(i, &env)
	})

	// Moves are transparent; every copy traces back to the const.
	for _, r := range []dex.Reg{0, 1, 2} {
		defs := env.Get(r)
		require.False(t, defs.IsTop())
		require.Equal(t, []*dex.Instruction{def}, defs.Insns())
	}
}

func TestReachingDefsJoin(t *testing.T) {
	code := dex.NewCode(3)
	l1, l2 := code.NewLabel(), code.NewLabel()
	defA := dex.NewConst(1, 1)
	defB := dex.NewConst(1, 2)
	onlyA := dex.NewConst(2, 3)
	code.AddInsn(dex.NewConst(0, 0)).
		AddInsn(dex.NewIfEqz(0, l1)).
		AddInsn(defA).
		AddInsn(onlyA).
		AddInsn(dex.NewGoto(l2)).
		AddLabel(l1).
		AddInsn(defB).
		AddLabel(l2).
		AddInsn(dex.NewReturnVoid())
	g := cfg.Build(code)
	join := g.Blocks()[3]

	reach := RunReachingDefs(g)
	env := reach.EntryStateAt(join)

	// Both arms define v1, so both consts reach the join.
	defs := env.Get(1)
	require.False(t, defs.IsTop())
	require.Len(t, defs.Insns(), 2)
	require.Contains(t, defs.Insns(), defA)
	require.Contains(t, defs.Insns(), defB)

	// Only one arm defines v2; the merge loses track of it.
	require.True(t, env.Get(2).IsTop())
}
