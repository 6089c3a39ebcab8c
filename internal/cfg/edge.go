package cfg

import "github.com/MedRedha/redex/internal/dex"

// EdgeKind classifies control-flow edges. Unconditional transfers and
// branch fallthroughs are both EdgeGoto (the "not taken" path of a
// conditional is a goto edge); EdgeBranch is the taken path, optionally
// carrying a switch case key; EdgeThrow routes into a catch handler;
// EdgeGhost connects return blocks to the synthetic exit block used by
// backward analyses.
type EdgeKind uint8

const (
	EdgeGoto EdgeKind = iota
	EdgeBranch
	EdgeThrow
	EdgeGhost
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeGoto:
		return "goto"
	case EdgeBranch:
		return "branch"
	case EdgeThrow:
		return "throw"
	case EdgeGhost:
		return "ghost"
	}
	return "?"
}

// Edge connects two blocks. Throw edges record the caught type and its
// position in the handler ordering; branch edges may record a case key.
type Edge struct {
	src, dst   *Block
	kind       EdgeKind
	caseKey    int64
	hasCaseKey bool
	catchType  *dex.Type
	catchIndex int
}

func (e *Edge) Src() *Block    { return e.src }
func (e *Edge) Dst() *Block    { return e.dst }
func (e *Edge) Kind() EdgeKind { return e.kind }

func (e *Edge) CaseKey() (int64, bool) { return e.caseKey, e.hasCaseKey }

func (e *Edge) CatchType() *dex.Type { return e.catchType }
func (e *Edge) CatchIndex() int      { return e.catchIndex }

// EqualsIgnoreSource reports whether two edges are interchangeable from
// the perspective of a predecessor: same target, same kind, and the same
// case/catch annotations. This is how two different blocks are compared
// for "equivalent successor structure".
func (e *Edge) EqualsIgnoreSource(o *Edge) bool {
	return e.dst == o.dst && e.kind == o.kind &&
		e.hasCaseKey == o.hasCaseKey && e.caseKey == o.caseKey &&
		e.catchType == o.catchType && e.catchIndex == o.catchIndex
}
