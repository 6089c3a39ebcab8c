// Package removeargs removes method parameters whose values are never
// read and method results that no caller consumes. Signatures shrink, the
// bodies lose their dead parameter loads, returns of dropped results
// become plain returns, and every call site is rewritten to match. The
// whole pass repeats until nothing shrinks anymore, because removing an
// argument can strand the computation that produced it in every caller.
package removeargs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dataflow"
	"github.com/MedRedha/redex/internal/dex"
	"github.com/MedRedha/redex/internal/opt/localdce"
	"github.com/MedRedha/redex/internal/pass"
	"github.com/MedRedha/redex/internal/trace"
	"github.com/MedRedha/redex/internal/walk"
)

// Metric names reported to the pass manager.
const (
	MetricCallsiteArgsRemoved     = "callsite_args_removed"
	MetricMethodParamsRemoved     = "method_params_removed"
	MetricMethodResultsRemoved    = "method_results_removed"
	MetricMethodSignaturesUpdated = "method_signatures_updated"
	MetricIterations              = "iterations"
	MetricDCEDeadInstructions     = "num_local_dce_dead_instruction_count"
	MetricDCEUnreachable          = "num_local_dce_unreachable_instruction_count"
)

// Config controls one run of the pass.
type Config struct {
	// MethodDenyList entries are matched as substrings against the full
	// printable method name. A match excludes the method from signature
	// changes; its call sites still shrink when a callee changes.
	MethodDenyList []string
}

func (c Config) denied(m *dex.Method) bool {
	full := m.FullName()
	for _, s := range c.MethodDenyList {
		if strings.Contains(full, s) {
			return true
		}
	}
	return false
}

// Stats accumulates what the pass did.
type Stats struct {
	CallsiteArgsRemoved  int
	MethodParamsRemoved  int
	MethodResultsRemoved int
	SignaturesUpdated    int
	Iterations           int
	DCE                  localdce.Stats
}

func (s Stats) add(o Stats) Stats {
	s.CallsiteArgsRemoved += o.CallsiteArgsRemoved
	s.MethodParamsRemoved += o.MethodParamsRemoved
	s.MethodResultsRemoved += o.MethodResultsRemoved
	s.SignaturesUpdated += o.SignaturesUpdated
	s.DCE = s.DCE.Add(o.DCE)
	return s
}

// Run shrinks signatures across the scope until a fixpoint and reports
// the totals through mgr.
func Run(ctx *dex.Context, scope *dex.Scope, hier *dex.Hierarchy, conf Config, mgr *pass.Manager, workers int) Stats {
	var total Stats
	for {
		st := runOnce(ctx, scope, hier, conf, workers, total.Iterations)
		total = total.add(st)
		total.Iterations++
		if st.MethodParamsRemoved+st.MethodResultsRemoved == 0 {
			break
		}
	}

	if mgr != nil {
		mgr.IncrMetric(MetricCallsiteArgsRemoved, int64(total.CallsiteArgsRemoved))
		mgr.IncrMetric(MetricMethodParamsRemoved, int64(total.MethodParamsRemoved))
		mgr.IncrMetric(MetricMethodResultsRemoved, int64(total.MethodResultsRemoved))
		mgr.IncrMetric(MetricMethodSignaturesUpdated, int64(total.SignaturesUpdated))
		mgr.IncrMetric(MetricIterations, int64(total.Iterations))
		mgr.IncrMetric(MetricDCEDeadInstructions, int64(total.DCE.DeadInstructions))
		mgr.IncrMetric(MetricDCEUnreachable, int64(total.DCE.UnreachableInstructions))
	}
	trace.Logf(trace.Args, 1,
		"removed %d params and %d results over %d iterations, %d signatures updated, %d callsite args removed",
		total.MethodParamsRemoved, total.MethodResultsRemoved, total.Iterations,
		total.SignaturesUpdated, total.CallsiteArgsRemoved)
	return total
}

// change is one method's planned signature shrink, computed read-only in
// parallel and applied sequentially.
type change struct {
	m *dex.Method
	// liveArgs lists the kept argument indices, ascending, relative to
	// the declared argument list. The receiver of an instance method is
	// not part of it and is always kept.
	liveArgs       []int
	removedArgs    int
	removeResult   bool
	deadParamLoads []*dex.Instruction

	// filled in while updating the body
	dce localdce.Stats
}

func runOnce(ctx *dex.Context, scope *dex.Scope, hier *dex.Hierarchy, conf Config, workers int, iteration int) Stats {
	var st Stats

	used := gatherResultsUsed(scope, workers)
	changes := computeChanges(scope, hier, conf, used, workers)
	if len(changes) == 0 {
		return st
	}

	applied := updateSignatures(ctx, changes, iteration)
	st.SignaturesUpdated = len(applied)
	if len(applied) == 0 {
		return st
	}

	// Update the changed bodies in parallel. Each worker touches only its
	// own method's change record.
	walk.ParallelMethods(scope, workers, func(m *dex.Method) {
		ch, ok := applied[m]
		if !ok {
			return
		}
		updateBody(ch)
	})
	for _, ch := range applied {
		st.MethodParamsRemoved += ch.removedArgs
		if ch.removeResult {
			st.MethodResultsRemoved++
		}
		st.DCE = st.DCE.Add(ch.dce)
	}

	st.CallsiteArgsRemoved = walk.ParallelReduceMethods(scope, workers, func(m *dex.Method) int {
		if m.Code() == nil {
			return 0
		}
		return patchCallsites(m.Code(), applied)
	}, func(a, b int) int { return a + b })

	return st
}

// gatherResultsUsed records every method whose return value is consumed
// by at least one call site.
func gatherResultsUsed(scope *dex.Scope, workers int) *xsync.MapOf[*dex.Method, struct{}] {
	used := xsync.NewMapOf[*dex.Method, struct{}]()
	walk.ParallelMethods(scope, workers, func(m *dex.Method) {
		if m.Code() == nil {
			return
		}
		insns := m.Code().Instructions()
		for n, insn := range insns {
			if insn.Op() == dex.OpMoveResult && n > 0 && insns[n-1].Op().IsInvoke() {
				used.Store(insns[n-1].Method(), struct{}{})
			}
		}
	})
	return used
}

// computeChanges plans, per method, which declared arguments are dead and
// whether the result can go. Virtual methods are only touched when no
// override relation reaches them.
func computeChanges(scope *dex.Scope, hier *dex.Hierarchy, conf Config,
	used *xsync.MapOf[*dex.Method, struct{}], workers int) []*change {

	changes := walk.ParallelReduceMethods(scope, workers, func(m *dex.Method) []*change {
		if m.Code() == nil || !m.IsDef() || conf.denied(m) {
			return nil
		}
		// A pinned name means an external rule owns the signature, so the
		// method is off limits even when no rename would be needed.
		if !m.CanRename() {
			return nil
		}
		if m.IsVirtual() && !hier.NonVirtual(m) {
			return nil
		}
		ch := planChange(m, used)
		if ch == nil {
			return nil
		}
		return []*change{ch}
	}, func(a, b []*change) []*change { return append(a, b...) })

	sort.Slice(changes, func(i, j int) bool {
		return dex.CompareMethods(changes[i].m, changes[j].m) < 0
	})
	return changes
}

func planChange(m *dex.Method, used *xsync.MapOf[*dex.Method, struct{}]) *change {
	code := m.Code()
	numArgs := m.Proto().Args().Len()
	base := 0
	if !m.IsStatic() {
		base = 1
	}

	g := cfg.Build(code)
	entry := g.Entry()
	var params []*dex.Instruction
	entry.ForEachInsn(func(i *dex.Instruction) {
		if i.Op() == dex.OpLoadParam {
			params = append(params, i)
		}
	})
	if len(params) != base+numArgs {
		panic(fmt.Sprintf("BUG: %s loads %d params for %d declared arguments",
			m.FullName(), len(params), base+numArgs))
	}

	// Liveness after each parameter load decides whether the value is
	// ever read. The receiver is kept regardless.
	live := dataflow.RunLiveness(g)
	liveAfter := map[*dex.Instruction]bool{}
	rs := live.LiveOutAt(entry)
	entry.ForEachInsnReverse(func(i *dex.Instruction) {
		if i.Op() == dex.OpLoadParam {
			liveAfter[i] = rs.Contains(i.Dest())
		}
		live.AnalyzeInstruction(i, &rs)
	})

	ch := &change{m: m}
	for i := 0; i < numArgs; i++ {
		if liveAfter[params[base+i]] {
			ch.liveArgs = append(ch.liveArgs, i)
		} else {
			ch.removedArgs++
			ch.deadParamLoads = append(ch.deadParamLoads, params[base+i])
		}
	}
	if _, ok := used.Load(m); !ok && !m.Proto().IsVoid() {
		ch.removeResult = true
	}
	if ch.removedArgs == 0 && !ch.removeResult {
		return nil
	}
	return ch
}

// updateSignatures applies the planned changes one by one in a stable
// method order. Constructors keep their name, so a shrink that collides
// with an existing constructor is abandoned. Virtual methods get a fresh
// name derived from the pass iteration and a per-signature counter, which
// keeps renames unique and reproducible.
func updateSignatures(ctx *dex.Context, changes []*change, iteration int) map[*dex.Method]*change {
	applied := map[*dex.Method]*change{}
	renamed := map[string]map[*dex.TypeList]int{}

	for _, ch := range changes {
		m := ch.m
		proto := m.Proto()

		kept := make([]*dex.Type, 0, len(ch.liveArgs))
		for _, i := range ch.liveArgs {
			kept = append(kept, proto.Args().At(i))
		}
		rtype := proto.RType()
		if ch.removeResult {
			rtype = ctx.Type("V")
		}
		newArgs := ctx.TypeList(kept...)
		newProto := ctx.Proto(rtype, newArgs)
		if newProto == proto {
			continue
		}

		switch {
		case m.IsConstructor():
			if other := ctx.FindMethod(m.Class(), m.Name(), newProto); other != nil && other != m {
				trace.Logf(trace.Args, 2, "abandoning %s: constructor collision", m.FullName())
				continue
			}
			m.Change(m.Name(), newProto)
		case m.IsVirtual():
			byArgs := renamed[m.Name()]
			if byArgs == nil {
				byArgs = map[*dex.TypeList]int{}
				renamed[m.Name()] = byArgs
			}
			idx := byArgs[newArgs]
			byArgs[newArgs]++
			m.Change(fmt.Sprintf("%s$uva%d$%d", m.Name(), iteration, idx), newProto)
		default:
			m.Change(m.Name(), newProto)
		}
		applied[m] = ch
	}
	return applied
}

// updateBody drops the dead parameter loads, strips the returned value
// when the result went away, and cleans up the computation that fed it.
func updateBody(ch *change) {
	code := ch.m.Code()
	for _, insn := range ch.deadParamLoads {
		code.RemoveInsn(insn)
	}
	if ch.removeResult {
		for _, insn := range code.Instructions() {
			if insn.Op() == dex.OpReturn {
				insn.SetReturnVoid()
			}
		}
	}
	ch.dce = localdce.Run(code)
}

// patchCallsites rewrites every invoke of a changed method: dead argument
// registers drop out of the source list and the consumer of a removed
// result disappears. A call site that fails to shrink after an argument
// removal means the plan and the invoke disagree about the signature.
func patchCallsites(code *dex.Code, applied map[*dex.Method]*change) int {
	removedArgs := 0
	insns := code.Instructions()
	var drop []*dex.Instruction
	for n, insn := range insns {
		if !insn.Op().IsInvoke() {
			continue
		}
		ch, ok := applied[insn.Method()]
		if !ok {
			continue
		}
		if ch.removedArgs > 0 {
			old := insn.SrcCount()
			base := 0
			if !ch.m.IsStatic() {
				base = 1
			}
			k := base
			for _, argIdx := range ch.liveArgs {
				insn.SetSrc(k, insn.Src(base+argIdx))
				k++
			}
			insn.ShrinkSrcs(k)
			if insn.SrcCount() >= old {
				panic(fmt.Sprintf("BUG: call site of %s kept %d of %d args", ch.m.FullName(), insn.SrcCount(), old))
			}
			removedArgs += old - insn.SrcCount()
		}
		if ch.removeResult && n+1 < len(insns) && insns[n+1].Op() == dex.OpMoveResult {
			drop = append(drop, insns[n+1])
		}
	}
	for _, insn := range drop {
		code.RemoveInsn(insn)
	}
	return removedArgs
}
