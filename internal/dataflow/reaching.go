package dataflow

import (
	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

// Defs is the set of instructions that may have produced a register's
// current value. Top means the analysis cannot resolve the register (it
// was unassigned on some path), which every client treats as an
// unresolvable result and bails out on.
type Defs struct {
	top   bool
	insns []*dex.Instruction
}

func (d Defs) IsTop() bool { return d.top }

func (d Defs) Insns() []*dex.Instruction { return d.insns }

// Size is the number of possible defining instructions.
func (d Defs) Size() int { return len(d.insns) }

func (d Defs) contains(i *dex.Instruction) bool {
	for _, cur := range d.insns {
		if cur == i {
			return true
		}
	}
	return false
}

func (d Defs) clone() Defs {
	return Defs{top: d.top, insns: append([]*dex.Instruction(nil), d.insns...)}
}

// DefEnv maps registers to their reaching definitions at one program
// point. A register without a binding reads as Top; the bottom sentinel
// marks a state no path has reached yet.
type DefEnv struct {
	bottom bool
	regs   map[dex.Reg]Defs
}

// Get returns the reaching definitions of r.
func (e DefEnv) Get(r dex.Reg) Defs {
	if e.bottom {
		return Defs{}
	}
	if d, ok := e.regs[r]; ok {
		return d
	}
	return Defs{top: true}
}

func (e *DefEnv) set(r dex.Reg, d Defs) { e.regs[r] = d }

// ReachingDefs is the forward, move-aware reaching-definitions analysis.
// A register assigned by a move keeps the source register's defining
// instructions, so provenance survives register shuffling and later
// passes can see through copies.
type ReachingDefs struct {
	fp *Fixpoint[DefEnv]
}

type reachingAnalysis struct{}

func (reachingAnalysis) Direction() Direction { return Forward }

func (reachingAnalysis) Bottom() DefEnv { return DefEnv{bottom: true} }

// Entry returns the initial state for the CFG entry block: reachable,
// with every register unknown until its first definition.
func (reachingAnalysis) Entry() DefEnv { return DefEnv{regs: map[dex.Reg]Defs{}} }

func (reachingAnalysis) Clone(st DefEnv) DefEnv {
	if st.bottom {
		return DefEnv{bottom: true}
	}
	out := DefEnv{regs: make(map[dex.Reg]Defs, len(st.regs))}
	for r, d := range st.regs {
		out.regs[r] = d.clone()
	}
	return out
}

func (a reachingAnalysis) JoinInto(dst *DefEnv, src DefEnv) bool {
	if src.bottom {
		return false
	}
	if dst.bottom {
		*dst = a.Clone(src)
		return true
	}
	changed := false
	for r, dd := range dst.regs {
		if dd.top {
			continue
		}
		sd, ok := src.regs[r]
		if !ok || sd.top {
			// Unbound in src reads as Top, and Top absorbs.
			dst.regs[r] = Defs{top: true}
			changed = true
			continue
		}
		for _, i := range sd.insns {
			if !dd.contains(i) {
				dd.insns = append(dd.insns, i)
				changed = true
			}
		}
		dst.regs[r] = dd
	}
	for r := range src.regs {
		if _, ok := dst.regs[r]; !ok {
			// Unbound in dst already reads as Top; pin it so later joins
			// see a stable binding.
			dst.regs[r] = Defs{top: true}
		}
	}
	return changed
}

func (reachingAnalysis) Transfer(insn *dex.Instruction, st *DefEnv) {
	if st.bottom {
		return
	}
	switch {
	case insn.Op() == dex.OpMove:
		st.set(insn.Dest(), st.Get(insn.Src(0)).clone())
	case insn.HasDest():
		st.set(insn.Dest(), Defs{insns: []*dex.Instruction{insn}})
	}
}

// RunReachingDefs converges the analysis from an empty (all unknown)
// entry state.
func RunReachingDefs(g *cfg.Graph) *ReachingDefs {
	an := reachingAnalysis{}
	return &ReachingDefs{fp: Run[DefEnv](g, an, an.Entry())}
}

// EntryStateAt returns the definitions reaching the block's entry.
func (r *ReachingDefs) EntryStateAt(b *cfg.Block) DefEnv { return r.fp.EntryStateAt(b) }

// AnalyzeInstruction advances a state past one instruction.
func (r *ReachingDefs) AnalyzeInstruction(insn *dex.Instruction, st *DefEnv) {
	r.fp.AnalyzeInstruction(insn, st)
}
