package dataflow

import (
	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

// Liveness is the backward analysis of which registers' current values
// may still be read later.
type Liveness struct {
	fp   *Fixpoint[RegSet]
	regs uint32
}

type livenessAnalysis struct {
	regs uint32
}

func (livenessAnalysis) Direction() Direction { return Backward }

func (a livenessAnalysis) Bottom() RegSet { return NewRegSet(a.regs) }

func (livenessAnalysis) Clone(st RegSet) RegSet { return st.Clone() }

func (livenessAnalysis) JoinInto(dst *RegSet, src RegSet) bool {
	return dst.UnionInto(src)
}

// Transfer runs backward: live-before = (live-after - dest) + srcs.
func (livenessAnalysis) Transfer(insn *dex.Instruction, st *RegSet) {
	if insn.HasDest() {
		st.Remove(insn.Dest())
	}
	for _, s := range insn.Srcs() {
		st.Add(s)
	}
}

// RunLiveness converges liveness over the graph. The exit block is
// (re)derived first so every return path feeds the analysis.
func RunLiveness(g *cfg.Graph) *Liveness {
	g.CalculateExitBlock()
	an := livenessAnalysis{regs: g.RegCount()}
	return &Liveness{fp: Run[RegSet](g, an, NewRegSet(g.RegCount())), regs: g.RegCount()}
}

// LiveInAt returns the registers live at the block's entry point.
func (l *Liveness) LiveInAt(b *cfg.Block) RegSet { return l.fp.ExitStateAt(b) }

// LiveOutAt returns the registers live when the block's successors are
// entered.
func (l *Liveness) LiveOutAt(b *cfg.Block) RegSet { return l.fp.EntryStateAt(b) }

// AnalyzeInstruction applies one backward transfer step, for replaying a
// block from its live-out state.
func (l *Liveness) AnalyzeInstruction(insn *dex.Instruction, st *RegSet) {
	l.fp.AnalyzeInstruction(insn, st)
}
