package removeargs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MedRedha/redex/internal/dex"
	"github.com/MedRedha/redex/internal/pass"
)

func countOp(code *dex.Code, op dex.Opcode) int {
	n := 0
	for _, i := range code.Instructions() {
		if i.Op() == op {
			n++
		}
	}
	return n
}

func TestRemoveDeadArg(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	v := ctx.Type("V")
	cls := ctx.Type("LFoo;")
	f := ctx.FieldRef(cls, "x", i)

	callee := ctx.MethodRef(cls, "foo", ctx.Proto(v, ctx.TypeList(i, i)))
	callee.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	calleeCode := dex.NewCode(2)
	calleeCode.AddInsn(dex.NewLoadParam(0, i)).
		AddInsn(dex.NewLoadParam(1, i)).
		AddInsn(dex.NewSPut(0, f)).
		AddInsn(dex.NewReturnVoid())
	callee.SetCode(calleeCode)

	caller := ctx.MethodRef(cls, "bar", ctx.Proto(v, ctx.TypeList()))
	caller.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	call := dex.NewInvoke(dex.OpInvokeStatic, callee, 0, 1)
	callerCode := dex.NewCode(2)
	callerCode.AddInsn(dex.NewConst(0, 1)).
		AddInsn(dex.NewConst(1, 2)).
		AddInsn(call).
		AddInsn(dex.NewReturnVoid())
	caller.SetCode(callerCode)

	c := dex.NewClass(cls)
	c.AddMethod(callee)
	c.AddMethod(caller)
	scope := dex.NewScope(c)

	mgr := pass.NewManager()
	stats := Run(ctx, scope, dex.NewHierarchy(), Config{}, mgr, 1)

	require.Equal(t, 1, stats.MethodParamsRemoved)
	require.Equal(t, 1, stats.CallsiteArgsRemoved)
	require.Equal(t, 1, stats.SignaturesUpdated)
	require.Equal(t, 2, stats.Iterations)

	require.Equal(t, "(I)V", callee.Proto().String())
	require.Equal(t, "foo", callee.Name())
	require.Equal(t, 1, countOp(calleeCode, dex.OpLoadParam))
	require.Equal(t, 1, call.SrcCount())
	require.Equal(t, dex.Reg(0), call.Src(0))

	require.Equal(t, int64(1), mgr.Metric(MetricMethodParamsRemoved))
	require.Equal(t, int64(1), mgr.Metric(MetricCallsiteArgsRemoved))
	require.Equal(t, int64(2), mgr.Metric(MetricIterations))
}

func TestBranchUsedArgStaysLive(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	v := ctx.Type("V")
	cls := ctx.Type("LFoo;")

	m := ctx.MethodRef(cls, "foo", ctx.Proto(v, ctx.TypeList(i)))
	m.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	code := dex.NewCode(1)
	l := code.NewLabel()
	code.AddInsn(dex.NewLoadParam(0, i)).
		AddInsn(dex.NewIfEqz(0, l)).
		AddInsn(dex.NewReturnVoid()).
		AddLabel(l).
		AddInsn(dex.NewReturnVoid())
	m.SetCode(code)

	c := dex.NewClass(cls)
	c.AddMethod(m)
	stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), Config{}, nil, 1)

	require.Zero(t, stats.MethodParamsRemoved)
	require.Equal(t, 1, stats.Iterations)
	require.Equal(t, "(I)V", m.Proto().String())
}

func TestRemoveUnusedResult(t *testing.T) {
	build := func(useResult bool) (*dex.Context, *dex.Scope, *dex.Method, *dex.Code) {
		ctx := dex.NewContext()
		i := ctx.Type("I")
		v := ctx.Type("V")
		cls := ctx.Type("LFoo;")
		f := ctx.FieldRef(cls, "x", i)

		callee := ctx.MethodRef(cls, "g", ctx.Proto(i, ctx.TypeList()))
		callee.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
		calleeCode := dex.NewCode(1)
		calleeCode.AddInsn(dex.NewConst(0, 7)).
			AddInsn(dex.NewReturn(0))
		callee.SetCode(calleeCode)

		caller := ctx.MethodRef(cls, "bar", ctx.Proto(v, ctx.TypeList()))
		caller.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
		callerCode := dex.NewCode(1)
		callerCode.AddInsn(dex.NewInvoke(dex.OpInvokeStatic, callee))
		if useResult {
			callerCode.AddInsn(dex.NewMoveResult(0)).
				AddInsn(dex.NewSPut(0, f))
		}
		callerCode.AddInsn(dex.NewReturnVoid())
		caller.SetCode(callerCode)

		c := dex.NewClass(cls)
		c.AddMethod(callee)
		c.AddMethod(caller)
		return ctx, dex.NewScope(c), callee, calleeCode
	}

	t.Run("unused result is dropped", func(t *testing.T) {
		ctx, scope, callee, calleeCode := build(false)
		stats := Run(ctx, scope, dex.NewHierarchy(), Config{}, nil, 1)

		require.Equal(t, 1, stats.MethodResultsRemoved)
		require.Equal(t, "()V", callee.Proto().String())
		require.Equal(t, []dex.Opcode{dex.OpReturnVoid}, opcodesOf(calleeCode))
		// The const that fed the old return is gone with it.
		require.Equal(t, 1, stats.DCE.DeadInstructions)
	})

	t.Run("consumed result stays", func(t *testing.T) {
		ctx, scope, callee, _ := build(true)
		stats := Run(ctx, scope, dex.NewHierarchy(), Config{}, nil, 1)

		require.Zero(t, stats.MethodResultsRemoved)
		require.Equal(t, "()I", callee.Proto().String())
	})
}

func opcodesOf(code *dex.Code) []dex.Opcode {
	var out []dex.Opcode
	for _, i := range code.Instructions() {
		out = append(out, i.Op())
	}
	return out
}

func TestVirtualSafety(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	v := ctx.Type("V")

	newVirtual := func(clsDesc string) *dex.Method {
		cls := ctx.Type(clsDesc)
		m := ctx.MethodRef(cls, "m", ctx.Proto(v, ctx.TypeList(i)))
		m.MakeConcrete(dex.AccPublic, true)
		code := dex.NewCode(2)
		code.AddInsn(dex.NewLoadParam(0, cls)).
			AddInsn(dex.NewLoadParam(1, i)).
			AddInsn(dex.NewReturnVoid())
		m.SetCode(code)
		return m
	}

	base := newVirtual("LBase;")
	impl := newVirtual("LImpl;")
	lone := newVirtual("LLone;")

	hier := dex.NewHierarchy()
	hier.AddOverride(base, impl)

	caller := ctx.MethodRef(ctx.Type("LCaller;"), "run", ctx.Proto(v, ctx.TypeList()))
	caller.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	call := dex.NewInvoke(dex.OpInvokeVirtual, lone, 0, 1)
	callerCode := dex.NewCode(2)
	callerCode.AddInsn(dex.NewConst(0, 0)).
		AddInsn(dex.NewConst(1, 5)).
		AddInsn(call).
		AddInsn(dex.NewReturnVoid())
	caller.SetCode(callerCode)

	var classes []*dex.Class
	for _, m := range []*dex.Method{base, impl, lone, caller} {
		c := dex.NewClass(m.Class())
		c.AddMethod(m)
		classes = append(classes, c)
	}
	scope := dex.NewScope(classes...)

	stats := Run(ctx, scope, hier, Config{}, nil, 1)

	// Override relations pin both ends of the pair.
	require.Equal(t, "m", base.Name())
	require.Equal(t, "(I)V", base.Proto().String())
	require.Equal(t, "m", impl.Name())
	require.Equal(t, "(I)V", impl.Proto().String())

	// The isolated virtual shrinks and gets a fresh unambiguous name.
	require.Equal(t, "m$uva0$0", lone.Name())
	require.Equal(t, "()V", lone.Proto().String())
	require.Equal(t, 1, call.SrcCount()) // receiver only
	require.Equal(t, dex.Reg(0), call.Src(0))

	// The receiver is kept even though the body never reads it.
	require.Equal(t, 1, countOp(lone.Code(), dex.OpLoadParam))
	require.Equal(t, 1, stats.MethodParamsRemoved)
}

func TestPinnedStaticKeepsSignature(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	cls := ctx.Type("LFoo;")

	// No rename would be needed to shrink a static method, but a pinned
	// name still blocks any signature change.
	m := ctx.MethodRef(cls, "foo", ctx.Proto(ctx.Type("V"), ctx.TypeList(i)))
	m.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	m.PinName()
	code := dex.NewCode(1)
	code.AddInsn(dex.NewLoadParam(0, i)).
		AddInsn(dex.NewReturnVoid())
	m.SetCode(code)

	c := dex.NewClass(cls)
	c.AddMethod(m)
	stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), Config{}, nil, 1)

	require.Equal(t, "(I)V", m.Proto().String())
	require.Zero(t, stats.SignaturesUpdated)
	require.Equal(t, 1, countOp(m.Code(), dex.OpLoadParam))
	require.Equal(t, 1, stats.Iterations)
}

func TestPinnedVirtualKeepsSignature(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	cls := ctx.Type("LPinned;")

	m := ctx.MethodRef(cls, "m", ctx.Proto(ctx.Type("V"), ctx.TypeList(i)))
	m.MakeConcrete(dex.AccPublic, true)
	m.PinName()
	code := dex.NewCode(2)
	code.AddInsn(dex.NewLoadParam(0, cls)).
		AddInsn(dex.NewLoadParam(1, i)).
		AddInsn(dex.NewReturnVoid())
	m.SetCode(code)

	c := dex.NewClass(cls)
	c.AddMethod(m)
	stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), Config{}, nil, 1)

	require.Equal(t, "m", m.Name())
	require.Equal(t, "(I)V", m.Proto().String())
	require.Zero(t, stats.SignaturesUpdated)
	require.Equal(t, 2, countOp(m.Code(), dex.OpLoadParam))
}

func TestConstructorCollisionAbandons(t *testing.T) {
	newCtor := func(ctx *dex.Context, cls *dex.Type, args ...*dex.Type) *dex.Method {
		m := ctx.MethodRef(cls, "<init>", ctx.Proto(ctx.Type("V"), ctx.TypeList(args...)))
		m.MakeConcrete(dex.AccPublic|dex.AccConstructor, false)
		code := dex.NewCode(uint32(1 + len(args)))
		code.AddInsn(dex.NewLoadParam(0, cls))
		for n, a := range args {
			code.AddInsn(dex.NewLoadParam(dex.Reg(1+n), a))
		}
		code.AddInsn(dex.NewReturnVoid())
		m.SetCode(code)
		return m
	}

	t.Run("collision abandons the shrink", func(t *testing.T) {
		ctx := dex.NewContext()
		cls := ctx.Type("LFoo;")
		noArg := newCtor(ctx, cls)
		oneArg := newCtor(ctx, cls, ctx.Type("I"))

		c := dex.NewClass(cls)
		c.AddMethod(noArg)
		c.AddMethod(oneArg)
		stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), Config{}, nil, 1)

		require.Equal(t, "(I)V", oneArg.Proto().String())
		require.Equal(t, "<init>", oneArg.Name())
		require.Equal(t, 2, countOp(oneArg.Code(), dex.OpLoadParam))
		require.Zero(t, stats.MethodParamsRemoved)
	})

	t.Run("no collision shrinks in place", func(t *testing.T) {
		ctx := dex.NewContext()
		cls := ctx.Type("LFoo;")
		oneArg := newCtor(ctx, cls, ctx.Type("I"))

		c := dex.NewClass(cls)
		c.AddMethod(oneArg)
		stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), Config{}, nil, 1)

		require.Equal(t, "()V", oneArg.Proto().String())
		require.Equal(t, "<init>", oneArg.Name())
		require.Equal(t, 1, stats.MethodParamsRemoved)
	})
}

func TestDenyListSkipsMethod(t *testing.T) {
	ctx := dex.NewContext()
	i := ctx.Type("I")
	cls := ctx.Type("LFoo;")

	m := ctx.MethodRef(cls, "foo", ctx.Proto(ctx.Type("V"), ctx.TypeList(i)))
	m.MakeConcrete(dex.AccPublic|dex.AccStatic, false)
	code := dex.NewCode(1)
	code.AddInsn(dex.NewLoadParam(0, i)).
		AddInsn(dex.NewReturnVoid())
	m.SetCode(code)

	c := dex.NewClass(cls)
	c.AddMethod(m)
	conf := Config{MethodDenyList: []string{"LFoo;.foo"}}
	stats := Run(ctx, dex.NewScope(c), dex.NewHierarchy(), conf, nil, 1)

	require.Zero(t, stats.SignaturesUpdated)
	require.Equal(t, "(I)V", m.Proto().String())
}
