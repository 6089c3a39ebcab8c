package dataflow

import (
	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

// TypeTag is the inferred kind of a register's value.
type TypeTag uint8

const (
	TagBottom TypeTag = iota // no path reached this point yet
	TagInt
	TagFloat
	TagLong
	TagDouble
	TagRef
	TagTop // paths disagree; nothing can be assumed
)

func (t TypeTag) String() string {
	switch t {
	case TagBottom:
		return "bottom"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagLong:
		return "long"
	case TagDouble:
		return "double"
	case TagRef:
		return "ref"
	case TagTop:
		return "top"
	}
	return "?"
}

// TypeValue is a register's inferred type: a tag, plus the exact declared
// reference type when the tag is TagRef and all paths agree on it. The
// verifier tracks reference types by def site, so "same tag, different
// class" is a disagreement.
type TypeValue struct {
	Tag TypeTag
	Ref *dex.Type
}

func (v TypeValue) joinWith(o TypeValue) TypeValue {
	if v.Tag == TagBottom {
		return o
	}
	if o.Tag == TagBottom {
		return v
	}
	if v.Tag != o.Tag {
		return TypeValue{Tag: TagTop}
	}
	if v.Tag == TagRef && v.Ref != o.Ref {
		return TypeValue{Tag: TagRef} // known reference, unknown class
	}
	return v
}

// typeOf maps a declared type to its inferred value.
func typeOf(t *dex.Type) TypeValue {
	if t == nil {
		return TypeValue{Tag: TagTop}
	}
	if t.IsReference() {
		return TypeValue{Tag: TagRef, Ref: t}
	}
	switch t.Descriptor()[0] {
	case 'J':
		return TypeValue{Tag: TagLong}
	case 'F':
		return TypeValue{Tag: TagFloat}
	case 'D':
		return TypeValue{Tag: TagDouble}
	case 'V':
		return TypeValue{Tag: TagTop}
	default: // I, Z, B, S, C
		return TypeValue{Tag: TagInt}
	}
}

// TypeEnv maps registers to inferred types at one program point. The
// result slot carries the pending value of the preceding producer for the
// move-result instruction that consumes it.
type TypeEnv struct {
	bottom bool
	regs   map[dex.Reg]TypeValue
	result TypeValue
}

// Get returns the inferred type of r.
func (e TypeEnv) Get(r dex.Reg) TypeValue {
	if e.bottom {
		return TypeValue{Tag: TagBottom}
	}
	if v, ok := e.regs[r]; ok {
		return v
	}
	return TypeValue{Tag: TagTop}
}

// JoinWith widens e to also cover o, reporting whether e changed.
func (e *TypeEnv) JoinWith(o TypeEnv) bool {
	return typeAnalysis{}.JoinInto(e, o)
}

// Clone returns an independent copy of the environment.
func (e TypeEnv) Clone() TypeEnv { return typeAnalysis{}.Clone(e) }

type typeAnalysis struct{}

func (typeAnalysis) Direction() Direction { return Forward }

func (typeAnalysis) Bottom() TypeEnv { return TypeEnv{bottom: true} }

func (typeAnalysis) Entry() TypeEnv { return TypeEnv{regs: map[dex.Reg]TypeValue{}} }

func (typeAnalysis) Clone(st TypeEnv) TypeEnv {
	if st.bottom {
		return TypeEnv{bottom: true}
	}
	out := TypeEnv{regs: make(map[dex.Reg]TypeValue, len(st.regs)), result: st.result}
	for r, v := range st.regs {
		out.regs[r] = v
	}
	return out
}

func (a typeAnalysis) JoinInto(dst *TypeEnv, src TypeEnv) bool {
	if src.bottom {
		return false
	}
	if dst.bottom {
		*dst = a.Clone(src)
		return true
	}
	changed := false
	for r, dv := range dst.regs {
		sv, ok := src.regs[r]
		if !ok {
			sv = TypeValue{Tag: TagTop}
		}
		if joined := dv.joinWith(sv); joined != dv {
			dst.regs[r] = joined
			changed = true
		}
	}
	for r := range src.regs {
		if _, ok := dst.regs[r]; !ok {
			// Unbound in dst reads as Top; pin the binding.
			dst.regs[r] = TypeValue{Tag: TagTop}
		}
	}
	if joined := dst.result.joinWith(src.result); joined != dst.result {
		dst.result = joined
		changed = true
	}
	return changed
}

func (typeAnalysis) Transfer(insn *dex.Instruction, st *TypeEnv) {
	if st.bottom {
		return
	}
	set := func(r dex.Reg, v TypeValue) { st.regs[r] = v }
	switch insn.Op() {
	case dex.OpLoadParam:
		set(insn.Dest(), typeOf(insn.Type()))
	case dex.OpConst:
		set(insn.Dest(), TypeValue{Tag: TagInt})
	case dex.OpConstString:
		set(insn.Dest(), typeOf(insn.Type()))
	case dex.OpMove:
		set(insn.Dest(), st.Get(insn.Src(0)))
	case dex.OpMoveResult, dex.OpMoveResultPseudo:
		set(insn.Dest(), st.result)
	case dex.OpNewInstance, dex.OpCheckCast:
		st.result = typeOf(insn.Type())
	case dex.OpSGet:
		st.result = typeOf(insn.Field().Type())
	case dex.OpInvokeStatic, dex.OpInvokeDirect, dex.OpInvokeVirtual:
		st.result = typeOf(insn.Method().Proto().RType())
	case dex.OpAddInt, dex.OpSubInt, dex.OpMulInt, dex.OpDivInt:
		set(insn.Dest(), TypeValue{Tag: TagInt})
	}
}

// TypeInference converges per-register types over the graph and exposes
// the environment in force immediately before every instruction, for
// later lookup by the duplicate-block verifier-legality check.
type TypeInference struct {
	envs map[*dex.Instruction]TypeEnv
}

// RunTypeInference runs the fixpoint and records per-instruction
// environments.
func RunTypeInference(g *cfg.Graph) *TypeInference {
	an := typeAnalysis{}
	fp := Run[TypeEnv](g, an, an.Entry())
	ti := &TypeInference{envs: map[*dex.Instruction]TypeEnv{}}
	for _, b := range g.Blocks() {
		st := fp.EntryStateAt(b)
		b.ForEachInsn(func(i *dex.Instruction) {
			ti.envs[i] = an.Clone(st)
			an.Transfer(i, &st)
		})
	}
	return ti
}

// EnvBefore returns the environment in force immediately before insn.
// Callers must Clone it before mutating.
func (ti *TypeInference) EnvBefore(insn *dex.Instruction) (TypeEnv, bool) {
	env, ok := ti.envs[insn]
	return env, ok
}
