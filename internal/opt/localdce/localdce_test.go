package localdce

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MedRedha/redex/internal/dex"
)

func ops(code *dex.Code) []dex.Opcode {
	var out []dex.Opcode
	for _, i := range code.Instructions() {
		out = append(out, i.Op())
	}
	return out
}

func TestRunRemovesDeadInstructions(t *testing.T) {
	ctx := dex.NewContext()
	f := ctx.FieldRef(ctx.Type("LFoo;"), "x", ctx.Type("I"))

	code := dex.NewCode(3)
	code.AddInsn(dex.NewConst(0, 1)).
		AddInsn(dex.NewConst(1, 2)). // dead
		AddInsn(dex.NewConst(2, 3)). // dead
		AddInsn(dex.NewSPut(0, f)).
		AddInsn(dex.NewReturnVoid())

	stats := Run(code)
	require.Equal(t, 2, stats.DeadInstructions)
	require.Zero(t, stats.UnreachableInstructions)
	require.Equal(t, []dex.Opcode{dex.OpConst, dex.OpSPut, dex.OpReturnVoid}, ops(code))
}

// A dead value feeding another dead value takes two sweeps; both go.
func TestRunRemovesDeadChains(t *testing.T) {
	code := dex.NewCode(3)
	code.AddInsn(dex.NewConst(0, 1)).
		AddInsn(dex.NewMove(1, 0)).
		AddInsn(dex.NewBinop(dex.OpAddInt, 2, 1, 1)).
		AddInsn(dex.NewReturnVoid())

	stats := Run(code)
	require.Equal(t, 3, stats.DeadInstructions)
	require.Equal(t, []dex.Opcode{dex.OpReturnVoid}, ops(code))
}

func TestRunKeepsSideEffects(t *testing.T) {
	ctx := dex.NewContext()
	m := ctx.MethodRef(ctx.Type("LFoo;"), "f", ctx.Proto(ctx.Type("I"), ctx.TypeList()))

	code := dex.NewCode(1)
	code.AddInsn(dex.NewInvoke(dex.OpInvokeStatic, m)).
		AddInsn(dex.NewMoveResult(0)). // result unused: the consumer goes, the call stays
		AddInsn(dex.NewReturnVoid())

	stats := Run(code)
	require.Equal(t, 1, stats.DeadInstructions)
	require.Equal(t, []dex.Opcode{dex.OpInvokeStatic, dex.OpReturnVoid}, ops(code))
}

func TestRunRemovesUnreachableBlocks(t *testing.T) {
	code := dex.NewCode(2)
	orphan := code.NewLabel()
	code.AddInsn(dex.NewReturnVoid()).
		AddLabel(orphan).
		AddInsn(dex.NewConst(0, 1)).
		AddInsn(dex.NewReturnVoid())

	stats := Run(code)
	require.Equal(t, 2, stats.UnreachableInstructions)
	require.Equal(t, []dex.Opcode{dex.OpReturnVoid}, ops(code))
}

func TestRunKeepsLiveValuesAcrossBlocks(t *testing.T) {
	ctx := dex.NewContext()
	f := ctx.FieldRef(ctx.Type("LFoo;"), "x", ctx.Type("I"))

	code := dex.NewCode(2)
	l := code.NewLabel()
	code.AddInsn(dex.NewConst(0, 1)).
		AddInsn(dex.NewConst(1, 0)).
		AddInsn(dex.NewIfEqz(1, l)).
		AddInsn(dex.NewReturnVoid()).
		AddLabel(l).
		AddInsn(dex.NewSPut(0, f)).
		AddInsn(dex.NewReturnVoid())

	stats := Run(code)
	require.Zero(t, stats.DeadInstructions)
}
