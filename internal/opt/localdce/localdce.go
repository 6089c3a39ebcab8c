// Package localdce removes, within one method body, instructions whose
// results are never read and blocks that can no longer be reached. It is
// the cleanup the dead-result rewrite relies on after turning
// return-value instructions into return-void.
package localdce

import (
	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dataflow"
	"github.com/MedRedha/redex/internal/dex"
	"github.com/MedRedha/redex/internal/trace"
)

// Stats counts what one invocation removed.
type Stats struct {
	DeadInstructions        int
	UnreachableInstructions int
}

func (s Stats) Add(o Stats) Stats {
	return Stats{
		DeadInstructions:        s.DeadInstructions + o.DeadInstructions,
		UnreachableInstructions: s.UnreachableInstructions + o.UnreachableInstructions,
	}
}

// removable instructions have no observable effect besides their dest.
func removable(op dex.Opcode) bool {
	switch op {
	case dex.OpConst, dex.OpConstString, dex.OpMove, dex.OpMoveResult,
		dex.OpAddInt, dex.OpSubInt, dex.OpMulInt:
		return true
	}
	return false
}

// Run eliminates dead code in the body and commits the result.
func Run(code *dex.Code) Stats {
	var stats Stats
	g := cfg.Build(code)

	stats.UnreachableInstructions = removeUnreachable(g)

	// Iterate: removing one dead instruction can kill the instruction
	// feeding it.
	for {
		removed := sweep(g)
		stats.DeadInstructions += removed
		if removed == 0 {
			break
		}
	}

	g.Commit(code)
	if stats.DeadInstructions+stats.UnreachableInstructions > 0 {
		trace.Logf(trace.LocalDCE, 3, "removed %d dead and %d unreachable instructions",
			stats.DeadInstructions, stats.UnreachableInstructions)
	}
	return stats
}

func removeUnreachable(g *cfg.Graph) int {
	reached := map[cfg.BlockID]bool{}
	stack := []*cfg.Block{g.Entry()}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[b.ID()] {
			continue
		}
		reached[b.ID()] = true
		for _, e := range b.Succs() {
			stack = append(stack, e.Dst())
		}
	}
	removed := 0
	for _, b := range g.Blocks() {
		if !reached[b.ID()] {
			removed += b.NumOpcodes()
			g.RemoveBlock(b)
		}
	}
	return removed
}

func sweep(g *cfg.Graph) int {
	live := dataflow.RunLiveness(g)
	removed := 0
	for _, b := range g.Blocks() {
		st := live.LiveOutAt(b)
		entries := b.Entries()
		var dead []int
		for n := len(entries) - 1; n >= 0; n-- {
			insn := entries[n].Insn
			if insn == nil {
				continue
			}
			if insn.HasDest() && !st.Contains(insn.Dest()) && removable(insn.Op()) {
				dead = append(dead, n)
				continue // a removed instruction contributes no uses
			}
			live.AnalyzeInstruction(insn, &st)
		}
		if len(dead) > 0 {
			removed += len(dead)
			kept := entries[:0]
			deadSet := map[int]bool{}
			for _, n := range dead {
				deadSet[n] = true
			}
			for n, e := range entries {
				if !deadSet[n] {
					kept = append(kept, e)
				}
			}
			b.SetEntries(kept)
		}
	}
	return removed
}
