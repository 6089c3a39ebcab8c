package dex

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Reg is a virtual register number.
type Reg uint32

// Opcode enumerates the IR operations.
type Opcode uint16

const (
	OpNop Opcode = iota
	// OpConst loads a literal into dest.
	OpConst
	// OpConstString loads an interned string; the operand type carries the
	// string class so type inference sees a precise reference type.
	OpConstString
	// OpMove copies src 0 into dest.
	OpMove
	// OpMoveResult consumes the result of the immediately preceding invoke.
	OpMoveResult
	// OpMoveResultPseudo consumes the result of the immediately preceding
	// non-invoke producer (new-instance, check-cast, sget). The pair must
	// never be separated by a block boundary.
	OpMoveResultPseudo
	// OpLoadParam materializes one method parameter at the start of the
	// entry block, in parameter order.
	OpLoadParam
	// OpNewInstance allocates an object of the operand type; the reference
	// arrives via a following OpMoveResultPseudo.
	OpNewInstance
	// OpCheckCast narrows src 0 to the operand type via OpMoveResultPseudo.
	OpCheckCast
	// OpSGet reads a static field; the value arrives via OpMoveResultPseudo.
	OpSGet
	// OpSPut writes src 0 into a static field.
	OpSPut
	OpInvokeStatic
	OpInvokeDirect
	OpInvokeVirtual
	OpReturnVoid
	// OpReturn returns src 0.
	OpReturn
	// OpThrow throws src 0.
	OpThrow
	// OpGoto exists only in the flat stream; building a CFG turns it into a
	// goto edge and committing materializes it again where needed.
	OpGoto
	// OpIfEqz branches to the target when src 0 == 0.
	OpIfEqz
	// OpIfEq branches to the target when src 0 == src 1.
	OpIfEq
	// OpSwitch branches on src 0 over per-case targets, falling through
	// when no case matches.
	OpSwitch
	OpAddInt
	OpSubInt
	OpMulInt
	// OpDivInt may throw on a zero divisor.
	OpDivInt
)

var opcodeNames = map[Opcode]string{
	OpNop:              "nop",
	OpConst:            "const",
	OpConstString:      "const-string",
	OpMove:             "move",
	OpMoveResult:       "move-result",
	OpMoveResultPseudo: "move-result-pseudo",
	OpLoadParam:        "load-param",
	OpNewInstance:      "new-instance",
	OpCheckCast:        "check-cast",
	OpSGet:             "sget",
	OpSPut:             "sput",
	OpInvokeStatic:     "invoke-static",
	OpInvokeDirect:     "invoke-direct",
	OpInvokeVirtual:    "invoke-virtual",
	OpReturnVoid:       "return-void",
	OpReturn:           "return",
	OpThrow:            "throw",
	OpGoto:             "goto",
	OpIfEqz:            "if-eqz",
	OpIfEq:             "if-eq",
	OpSwitch:           "switch",
	OpAddInt:           "add-int",
	OpSubInt:           "sub-int",
	OpMulInt:           "mul-int",
	OpDivInt:           "div-int",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// IsInvoke reports whether op is a call.
func (op Opcode) IsInvoke() bool {
	return op == OpInvokeStatic || op == OpInvokeDirect || op == OpInvokeVirtual
}

// IsMoveResultAny reports whether op consumes a pending result and must
// stay fused to the producing instruction before it.
func (op Opcode) IsMoveResultAny() bool {
	return op == OpMoveResult || op == OpMoveResultPseudo
}

// IsBranch reports whether op transfers control to an explicit target.
func (op Opcode) IsBranch() bool {
	return op == OpGoto || op == OpIfEqz || op == OpIfEq || op == OpSwitch
}

// IsConditionalBranch reports whether op has both a taken and a
// fallthrough successor.
func (op Opcode) IsConditionalBranch() bool {
	return op == OpIfEqz || op == OpIfEq || op == OpSwitch
}

// IsTerminal reports whether control never falls through op.
func (op Opcode) IsTerminal() bool {
	return op == OpReturnVoid || op == OpReturn || op == OpThrow || op == OpGoto
}

// IsReturnValue reports whether op returns a value.
func (op Opcode) IsReturnValue() bool { return op == OpReturn }

// CanThrow reports whether op may raise at runtime and therefore needs
// throw edges inside a try region.
func (op Opcode) CanThrow() bool {
	switch op {
	case OpInvokeStatic, OpInvokeDirect, OpInvokeVirtual,
		OpNewInstance, OpCheckCast, OpSGet, OpSPut, OpDivInt, OpThrow:
		return true
	}
	return false
}

// SwitchCase pairs a case key with its flat-stream target.
type SwitchCase struct {
	Key    int64
	Target *Label
}

// Instruction is one IR operation. Its identity (pointer) is stable from
// creation; operands may be rewritten in place by passes. Branch targets
// are flat-stream bookkeeping only: once a CFG is built, successor
// structure lives on edges, which is why structural equality and the
// structural hash ignore them.
type Instruction struct {
	op      Opcode
	hasDest bool
	dest    Reg
	srcs    []Reg
	lit     int64
	str     string
	typ     *Type
	field   *Field
	method  *Method
	target  *Label
	cases   []SwitchCase
}

func (i *Instruction) Op() Opcode { return i.op }

func (i *Instruction) HasDest() bool { return i.hasDest }
func (i *Instruction) Dest() Reg     { return i.dest }

func (i *Instruction) Srcs() []Reg   { return i.srcs }
func (i *Instruction) Src(n int) Reg { return i.srcs[n] }
func (i *Instruction) SrcCount() int { return len(i.srcs) }

// SetSrc rewrites one source register in place.
func (i *Instruction) SetSrc(n int, r Reg) { i.srcs[n] = r }

// ShrinkSrcs truncates the source list to n registers. Call-site patching
// uses this to drop removed argument positions.
func (i *Instruction) ShrinkSrcs(n int) { i.srcs = i.srcs[:n] }

func (i *Instruction) Literal() int64  { return i.lit }
func (i *Instruction) Str() string     { return i.str }
func (i *Instruction) Type() *Type     { return i.typ }
func (i *Instruction) Field() *Field   { return i.field }
func (i *Instruction) Method() *Method { return i.method }

func (i *Instruction) Target() *Label        { return i.target }
func (i *Instruction) SetTarget(l *Label)    { i.target = l }
func (i *Instruction) Cases() []SwitchCase   { return i.cases }
func (i *Instruction) SetCases(c []SwitchCase) { i.cases = c }

// SetReturnVoid rewrites a return-value instruction into return-void.
func (i *Instruction) SetReturnVoid() {
	i.op = OpReturnVoid
	i.srcs = nil
}

// Equals is structural equality: same opcode and same operands. Operand
// references (types, fields, methods) are interned, so pointer comparison
// is operand comparison. Branch targets are ignored; see Instruction.
func (i *Instruction) Equals(o *Instruction) bool {
	if i.op != o.op || i.hasDest != o.hasDest || i.dest != o.dest ||
		i.lit != o.lit || i.str != o.str ||
		i.typ != o.typ || i.field != o.field || i.method != o.method {
		return false
	}
	if len(i.srcs) != len(o.srcs) {
		return false
	}
	for n, s := range i.srcs {
		if s != o.srcs[n] {
			return false
		}
	}
	return true
}

// Hash is a deterministic structural hash consistent with Equals. Interned
// operands hash by their printable keys, not pointer values, so the hash
// is stable across runs.
func (i *Instruction) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		for n := 0; n < 8; n++ {
			buf[n] = byte(v >> (8 * n))
		}
		h.Write(buf[:])
	}
	put(uint64(i.op))
	if i.hasDest {
		put(uint64(i.dest) | 1<<32)
	}
	for _, s := range i.srcs {
		put(uint64(s))
	}
	put(uint64(i.lit))
	h.Write([]byte(i.str))
	if i.typ != nil {
		h.Write([]byte(i.typ.descriptor))
	}
	if i.field != nil {
		h.Write([]byte(i.field.String()))
	}
	if i.method != nil {
		h.Write([]byte(i.method.FullName()))
	}
	return h.Sum64()
}

func (i *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.op.String())
	if i.hasDest {
		fmt.Fprintf(&sb, " v%d <-", i.dest)
	}
	for _, s := range i.srcs {
		fmt.Fprintf(&sb, " v%d", s)
	}
	switch {
	case i.op == OpConst:
		fmt.Fprintf(&sb, " #%d", i.lit)
	case i.op == OpConstString:
		fmt.Fprintf(&sb, " %q", i.str)
	case i.typ != nil:
		sb.WriteString(" " + i.typ.descriptor)
	case i.field != nil:
		sb.WriteString(" " + i.field.String())
	case i.method != nil:
		sb.WriteString(" " + i.method.FullName())
	}
	return sb.String()
}

func NewNop() *Instruction { return &Instruction{op: OpNop} }

func NewConst(dest Reg, lit int64) *Instruction {
	return &Instruction{op: OpConst, hasDest: true, dest: dest, lit: lit}
}

func NewConstString(dest Reg, s string, stringType *Type) *Instruction {
	return &Instruction{op: OpConstString, hasDest: true, dest: dest, str: s, typ: stringType}
}

func NewMove(dest, src Reg) *Instruction {
	return &Instruction{op: OpMove, hasDest: true, dest: dest, srcs: []Reg{src}}
}

func NewMoveResult(dest Reg) *Instruction {
	return &Instruction{op: OpMoveResult, hasDest: true, dest: dest}
}

func NewMoveResultPseudo(dest Reg) *Instruction {
	return &Instruction{op: OpMoveResultPseudo, hasDest: true, dest: dest}
}

func NewLoadParam(dest Reg, typ *Type) *Instruction {
	return &Instruction{op: OpLoadParam, hasDest: true, dest: dest, typ: typ}
}

func NewNewInstance(typ *Type) *Instruction {
	return &Instruction{op: OpNewInstance, typ: typ}
}

func NewCheckCast(src Reg, typ *Type) *Instruction {
	return &Instruction{op: OpCheckCast, srcs: []Reg{src}, typ: typ}
}

func NewSGet(f *Field) *Instruction { return &Instruction{op: OpSGet, field: f} }

func NewSPut(src Reg, f *Field) *Instruction {
	return &Instruction{op: OpSPut, srcs: []Reg{src}, field: f}
}

// NewInvoke creates a call; for invoke-direct and invoke-virtual the first
// source is the receiver.
func NewInvoke(op Opcode, m *Method, srcs ...Reg) *Instruction {
	if !op.IsInvoke() {
		panic("BUG: NewInvoke with non-invoke opcode " + op.String())
	}
	return &Instruction{op: op, method: m, srcs: srcs}
}

func NewReturn(src Reg) *Instruction {
	return &Instruction{op: OpReturn, srcs: []Reg{src}}
}

func NewReturnVoid() *Instruction { return &Instruction{op: OpReturnVoid} }

func NewThrow(src Reg) *Instruction {
	return &Instruction{op: OpThrow, srcs: []Reg{src}}
}

func NewGoto(target *Label) *Instruction {
	return &Instruction{op: OpGoto, target: target}
}

func NewIfEqz(src Reg, target *Label) *Instruction {
	return &Instruction{op: OpIfEqz, srcs: []Reg{src}, target: target}
}

func NewIfEq(a, b Reg, target *Label) *Instruction {
	return &Instruction{op: OpIfEq, srcs: []Reg{a, b}, target: target}
}

func NewSwitch(src Reg, cases ...SwitchCase) *Instruction {
	return &Instruction{op: OpSwitch, srcs: []Reg{src}, cases: cases}
}

func NewBinop(op Opcode, dest, a, b Reg) *Instruction {
	switch op {
	case OpAddInt, OpSubInt, OpMulInt, OpDivInt:
	default:
		panic("BUG: NewBinop with non-binop opcode " + op.String())
	}
	return &Instruction{op: op, hasDest: true, dest: dest, srcs: []Reg{a, b}}
}
