// Package dataflow implements a generic monotone fixpoint framework over a
// control-flow graph, plus the concrete analyses the optimizer passes
// need: backward liveness, move-aware reaching definitions, and type
// inference.
package dataflow

import (
	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

// Direction selects which way states propagate. The framework itself is
// direction-agnostic glue: "entry" and "exit" below are relative to the
// analysis direction, so a backward analysis enters a block at its last
// instruction.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Analysis supplies the lattice and transfer function of one concrete
// analysis. The domain must have finite height and Transfer must be
// monotone, or Run does not terminate.
type Analysis[D any] interface {
	Direction() Direction
	Bottom() D
	Clone(st D) D
	// JoinInto folds src into dst (least upper bound), reporting whether
	// dst changed.
	JoinInto(dst *D, src D) bool
	// Transfer applies one instruction to the state, in analysis order.
	Transfer(insn *dex.Instruction, st *D)
}

// Fixpoint holds the converged per-block states of one analysis run.
// Results are only valid until the graph or its instructions change.
type Fixpoint[D any] struct {
	g     *cfg.Graph
	an    Analysis[D]
	entry map[cfg.BlockID]D // state at the block's analysis entry
	exit  map[cfg.BlockID]D // state after the block's transfer
}

// Run iterates the analysis to a fixpoint with the standard worklist
// algorithm. The initial state seeds the designated start block: the CFG
// entry for forward analyses, the (possibly synthetic) exit block for
// backward ones.
func Run[D any](g *cfg.Graph, an Analysis[D], initial D) *Fixpoint[D] {
	f := &Fixpoint[D]{
		g:     g,
		an:    an,
		entry: map[cfg.BlockID]D{},
		exit:  map[cfg.BlockID]D{},
	}

	var start *cfg.Block
	if an.Direction() == Forward {
		start = g.Entry()
	} else {
		start = g.CalculateExitBlock()
	}

	blocks := g.Blocks()
	inWorklist := map[cfg.BlockID]bool{}
	worklist := make([]*cfg.Block, 0, len(blocks))
	push := func(b *cfg.Block) {
		if !inWorklist[b.ID()] {
			inWorklist[b.ID()] = true
			worklist = append(worklist, b)
		}
	}
	for _, b := range blocks {
		push(b)
	}

	for len(worklist) > 0 {
		b := worklist[0]
		worklist = worklist[1:]
		inWorklist[b.ID()] = false

		in := an.Bottom()
		if b == start {
			an.JoinInto(&in, initial)
		}
		for _, pred := range f.analysisPreds(b) {
			if st, ok := f.exit[pred.ID()]; ok {
				an.JoinInto(&in, st)
			}
		}
		f.entry[b.ID()] = an.Clone(in)

		st := in
		f.transferBlock(b, &st)

		old, seen := f.exit[b.ID()]
		changed := !seen
		if seen {
			changed = an.JoinInto(&old, st)
			st = old
		}
		f.exit[b.ID()] = st
		if changed {
			for _, succ := range f.analysisSuccs(b) {
				push(succ)
			}
		}
	}
	return f
}

func (f *Fixpoint[D]) analysisPreds(b *cfg.Block) []*cfg.Block {
	var out []*cfg.Block
	if f.an.Direction() == Forward {
		for _, e := range b.Preds() {
			out = append(out, e.Src())
		}
	} else {
		for _, e := range b.Succs() {
			out = append(out, e.Dst())
		}
	}
	return out
}

func (f *Fixpoint[D]) analysisSuccs(b *cfg.Block) []*cfg.Block {
	var out []*cfg.Block
	if f.an.Direction() == Forward {
		for _, e := range b.Succs() {
			out = append(out, e.Dst())
		}
	} else {
		for _, e := range b.Preds() {
			out = append(out, e.Src())
		}
	}
	return out
}

func (f *Fixpoint[D]) transferBlock(b *cfg.Block, st *D) {
	if f.an.Direction() == Forward {
		b.ForEachInsn(func(i *dex.Instruction) { f.an.Transfer(i, st) })
	} else {
		b.ForEachInsnReverse(func(i *dex.Instruction) { f.an.Transfer(i, st) })
	}
}

// EntryStateAt returns a copy of the converged state at the block's
// analysis entry: before the first instruction for forward analyses,
// after the last for backward ones.
func (f *Fixpoint[D]) EntryStateAt(b *cfg.Block) D {
	if st, ok := f.entry[b.ID()]; ok {
		return f.an.Clone(st)
	}
	return f.an.Bottom()
}

// ExitStateAt returns a copy of the converged state after the block's
// transfer function.
func (f *Fixpoint[D]) ExitStateAt(b *cfg.Block) D {
	if st, ok := f.exit[b.ID()]; ok {
		return f.an.Clone(st)
	}
	return f.an.Bottom()
}

// AnalyzeInstruction applies one instruction's transfer function to a
// state, letting callers replay a block from a converged boundary state
// to an interior program point.
func (f *Fixpoint[D]) AnalyzeInstruction(insn *dex.Instruction, st *D) {
	f.an.Transfer(insn, st)
}
