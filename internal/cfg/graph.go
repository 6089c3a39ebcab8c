package cfg

import (
	"fmt"
	"sort"

	"github.com/MedRedha/redex/internal/dex"
)

// tryRegion remembers the handlers of one try region so that committing
// the graph back to a flat stream can re-emit the region.
type tryRegion struct {
	handlers []tryHandler
}

type tryHandler struct {
	typ   *dex.Type
	block *Block
}

// Graph owns all blocks and edges of one method body. Structural edits
// (split, replace, edge rerouting) keep the derived state consistent:
// predecessor lists are maintained eagerly and the cached exit block is
// invalidated by every edit.
type Graph struct {
	blocks    []*Block // creation order; ids are indexes into this slice
	entry     *Block
	exit      *Block
	exitValid bool
	regs      uint32
	positions *dex.PosTable
	tries     map[int]*tryRegion
}

func (g *Graph) newBlock() *Block {
	b := &Block{id: BlockID(len(g.blocks))}
	g.blocks = append(g.blocks, b)
	return b
}

func (g *Graph) Entry() *Block { return g.entry }

// RegCount is the number of virtual registers of the method body.
func (g *Graph) RegCount() uint32 { return g.regs }

// Positions is the method's debug-position table, shared with the flat
// stream the graph was built from.
func (g *Graph) Positions() *dex.PosTable { return g.positions }

// Blocks returns the live blocks in creation-id order. Passes iterate this
// before emitting anything order-sensitive; hash-based groupings must be
// re-sorted through it for reproducible output.
func (g *Graph) Blocks() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		if !b.removed {
			out = append(out, b)
		}
	}
	return out
}

// NumBlocks counts live blocks.
func (g *Graph) NumBlocks() int {
	n := 0
	for _, b := range g.blocks {
		if !b.removed {
			n++
		}
	}
	return n
}

func (g *Graph) addEdge(e *Edge) *Edge {
	e.src.succs = append(e.src.succs, e)
	e.dst.preds = append(e.dst.preds, e)
	g.exitValid = false
	return e
}

// AddGotoEdge adds an unconditional (or fallthrough) edge.
func (g *Graph) AddGotoEdge(src, dst *Block) *Edge {
	return g.addEdge(&Edge{src: src, dst: dst, kind: EdgeGoto})
}

// AddBranchEdge adds the taken edge of a conditional.
func (g *Graph) AddBranchEdge(src, dst *Block) *Edge {
	return g.addEdge(&Edge{src: src, dst: dst, kind: EdgeBranch})
}

// AddCaseEdge adds a switch case edge carrying its key.
func (g *Graph) AddCaseEdge(src, dst *Block, key int64) *Edge {
	return g.addEdge(&Edge{src: src, dst: dst, kind: EdgeBranch, caseKey: key, hasCaseKey: true})
}

// AddThrowEdge adds an exception edge to a handler with its caught type
// and position in the handler ordering.
func (g *Graph) AddThrowEdge(src, dst *Block, catchType *dex.Type, index int) *Edge {
	return g.addEdge(&Edge{src: src, dst: dst, kind: EdgeThrow, catchType: catchType, catchIndex: index})
}

func (g *Graph) addGhostEdge(src, dst *Block) *Edge {
	return g.addEdge(&Edge{src: src, dst: dst, kind: EdgeGhost})
}

func removeEdgeFrom(edges []*Edge, e *Edge) []*Edge {
	for n, cur := range edges {
		if cur == e {
			return append(edges[:n], edges[n+1:]...)
		}
	}
	return edges
}

func (g *Graph) removeEdge(e *Edge) {
	e.src.succs = removeEdgeFrom(e.src.succs, e)
	e.dst.preds = removeEdgeFrom(e.dst.preds, e)
	g.exitValid = false
}

// SplitBlock splits b after the instruction at entry index idx. Entries up
// to and including idx stay in b; the rest move to a new block that takes
// over b's outgoing edges, with a new goto edge from b to it. Returns nil
// without splitting when idx is not an instruction, nothing follows it, or
// the first moved instruction is a move-result: a result consumer must
// never be separated from its producer, and callers are expected to have
// adjusted the boundary before calling.
func (g *Graph) SplitBlock(b *Block, idx int) *Block {
	if idx < 0 || idx >= len(b.entries) || b.entries[idx].Insn == nil {
		return nil
	}
	tailEntries := b.entries[idx+1:]
	var tailFirst *dex.Instruction
	for _, e := range tailEntries {
		if e.Insn != nil {
			tailFirst = e.Insn
			break
		}
	}
	if tailFirst == nil {
		return nil // nothing to move; splitting at the end is a no-op
	}
	if tailFirst.Op().IsMoveResultAny() {
		return nil
	}

	tail := g.newBlock()
	tail.entries = append([]Entry(nil), tailEntries...)
	b.entries = b.entries[:idx+1]
	tail.tryID = b.tryID

	// The original outgoing edges now originate from the tail.
	tail.succs = b.succs
	for _, e := range tail.succs {
		e.src = tail
	}
	b.succs = nil

	// The head keeps throw edges if it can still throw inside a try.
	if b.tryID != 0 && blockCanThrow(b) {
		for _, e := range tail.succs {
			if e.kind == EdgeThrow {
				g.AddThrowEdge(b, e.dst, e.catchType, e.catchIndex)
			}
		}
	}

	g.AddGotoEdge(b, tail)
	g.exitValid = false
	return tail
}

func blockCanThrow(b *Block) bool {
	can := false
	b.ForEachInsn(func(i *dex.Instruction) {
		if i.Op().CanThrow() {
			can = true
		}
	})
	return can
}

// ReplaceBlock reroutes every incoming edge of old to target canon,
// preserving edge kinds and catch annotations, and deletes old. The
// canonical block must have the lower id; breaking that is a framework
// bug, not a data condition.
func (g *Graph) ReplaceBlock(old, canon *Block) {
	if canon.id >= old.id {
		panic(fmt.Sprintf("BUG: canonical block B%d must have a lower id than B%d", canon.id, old.id))
	}
	for _, e := range old.preds {
		e.dst = canon
		canon.preds = append(canon.preds, e)
	}
	old.preds = nil
	for len(old.succs) > 0 {
		g.removeEdge(old.succs[0])
	}
	// Positions of the deleted block leave the table; parent links to them
	// were rewritten by the caller beforehand.
	for _, e := range old.entries {
		if e.Pos != nil {
			g.positions.Remove(e.Pos.ID())
		}
	}
	// Drop stale try-handler references.
	for _, region := range g.tries {
		for n := range region.handlers {
			if region.handlers[n].block == old {
				region.handlers[n].block = canon
			}
		}
	}
	old.entries = nil
	old.removed = true
	g.exitValid = false
}

// RemoveBlock detaches and deletes a block, typically one that became
// unreachable. Parent links into the block's positions are cleared before
// the positions leave the table.
func (g *Graph) RemoveBlock(b *Block) {
	for len(b.preds) > 0 {
		g.removeEdge(b.preds[0])
	}
	for len(b.succs) > 0 {
		g.removeEdge(b.succs[0])
	}
	var repl map[dex.PosID]dex.PosID
	for _, e := range b.entries {
		if e.Pos != nil {
			if repl == nil {
				repl = map[dex.PosID]dex.PosID{}
			}
			repl[e.Pos.ID()] = 0
		}
	}
	if repl != nil {
		g.positions.ReplaceParents(repl)
		for id := range repl {
			g.positions.Remove(id)
		}
	}
	b.entries = nil
	b.removed = true
	g.exitValid = false
}

// CalculateExitBlock derives the terminal block used by backward
// analyses: the unique block without successors if there is exactly one,
// otherwise a synthetic ghost block fed by ghost edges from every such
// block. The result is cached until the next structural edit.
func (g *Graph) CalculateExitBlock() *Block {
	if g.exitValid {
		return g.exit
	}
	// Tear down a stale ghost block from an earlier computation.
	if g.exit != nil && g.exit.ghost && !g.exit.removed {
		for len(g.exit.preds) > 0 {
			g.removeEdge(g.exit.preds[0])
		}
		g.exit.removed = true
	}

	var exits []*Block
	for _, b := range g.blocks {
		if b.removed || b.ghost {
			continue
		}
		if len(b.succs) == 0 {
			exits = append(exits, b)
		}
	}
	switch len(exits) {
	case 0:
		g.exit = nil
	case 1:
		g.exit = exits[0]
	default:
		ghost := g.newBlock()
		ghost.ghost = true
		for _, b := range exits {
			g.addGhostEdge(b, ghost)
		}
		g.exit = ghost
	}
	g.exitValid = true
	return g.exit
}

// SortBlocksByID sorts a slice of blocks into creation-id order, the
// deterministic order every parallel or hash-grouped phase must restore
// before its output matters.
func SortBlocksByID(blocks []*Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].id < blocks[j].id })
}
