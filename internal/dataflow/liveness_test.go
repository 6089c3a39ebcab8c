package dataflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

func TestLivenessStraightLine(t *testing.T) {
	ctx := dex.NewContext()
	f := ctx.FieldRef(ctx.Type("LFoo;"), "x", ctx.Type("I"))

	code := dex.NewCode(2)
	use := dex.NewSPut(0, f)
	code.AddInsn(dex.NewConst(0, 7)).
		AddInsn(dex.NewConst(1, 8)).
		AddInsn(use).
		AddInsn(dex.NewReturnVoid())
	g := cfg.Build(code)

	live := RunLiveness(g)
	entry := g.Entry()
	require.Empty(t, live.LiveInAt(entry).Elements())

	// Replaying from live-out: v0 is live right before its use, v1 never.
	// The backward transfer at an instruction turns its live-after state
	// into its live-before state, so the snapshot follows the step.
	st := live.LiveOutAt(entry)
	var beforeUse RegSet
	entry.ForEachInsnReverse(func(i *dex.Instruction) {
		live.AnalyzeInstruction(i, &st)
		if i == use {
			beforeUse = st.Clone()
		}
	})
	require.True(t, beforeUse.Contains(0))
	require.False(t, beforeUse.Contains(1))
}

func TestLivenessDiamond(t *testing.T) {
	ctx := dex.NewContext()
	f := ctx.FieldRef(ctx.Type("LFoo;"), "x", ctx.Type("I"))

	code := dex.NewCode(2)
	l1, l2 := code.NewLabel(), code.NewLabel()
	code.AddInsn(dex.NewConst(0, 0)).
		AddInsn(dex.NewConst(1, 9)).
		AddInsn(dex.NewIfEqz(0, l1)).
		AddInsn(dex.NewSPut(1, f)). // only this arm reads v1
		AddInsn(dex.NewGoto(l2)).
		AddLabel(l1).
		AddInsn(dex.NewConst(1, 3)).
		AddLabel(l2).
		AddInsn(dex.NewReturnVoid())
	g := cfg.Build(code)
	blocks := g.Blocks()
	useArm, defArm := blocks[1], blocks[2]

	live := RunLiveness(g)
	require.True(t, live.LiveInAt(useArm).Contains(1))
	require.False(t, live.LiveInAt(defArm).Contains(1))
}

func TestLivenessLoop(t *testing.T) {
	code := dex.NewCode(2)
	head := code.NewLabel()
	code.AddInsn(dex.NewConst(0, 5)).
		AddLabel(head).
		AddInsn(dex.NewConst(1, 0)).
		AddInsn(dex.NewIfEqz(0, head)).
		AddInsn(dex.NewReturnVoid())
	g := cfg.Build(code)
	loop := g.Blocks()[1]

	live := RunLiveness(g)
	// The loop reads v0 on every trip, so it stays live at the head.
	require.True(t, live.LiveInAt(loop).Contains(0))
	require.False(t, live.LiveInAt(loop).Contains(1))
}
