package cfg

import (
	"fmt"

	"github.com/MedRedha/redex/internal/dex"
)

// Build constructs the control-flow graph of a flat method body. Block ids
// are assigned in stream order, goto instructions dissolve into edges, and
// try markers become block attributes plus throw edges into their
// handlers. The stream must not fall off its end: the last reachable item
// of every path has to be a control transfer.
func Build(code *dex.Code) *Graph {
	g := &Graph{
		regs:      code.Regs(),
		positions: code.Positions(),
		tries:     map[int]*tryRegion{},
	}

	labelBlock := map[*dex.Label]*Block{}
	tryMarkers := map[int]*dex.TryMarker{}

	type pendingBranch struct {
		insn  *dex.Instruction
		block *Block
	}
	type pendingGoto struct {
		block  *Block
		target *dex.Label
	}
	var branches []pendingBranch
	var gotos []pendingGoto

	var cur *Block       // block being filled, nil after a boundary
	var fallFrom *Block  // block expecting a fallthrough edge to the next one
	var curTry *dex.TryMarker

	ensureBlock := func() *Block {
		if cur == nil {
			cur = g.newBlock()
			if curTry != nil {
				cur.tryID = curTry.ID()
			}
			if fallFrom != nil {
				g.AddGotoEdge(fallFrom, cur)
				fallFrom = nil
			}
		}
		return cur
	}

	for _, it := range code.Items() {
		switch it.Kind {
		case dex.ItemLabel:
			if cur != nil && len(cur.entries) > 0 {
				fallFrom = cur
				cur = nil
			}
			labelBlock[it.Label] = ensureBlock()

		case dex.ItemPosition:
			ensureBlock().appendPos(it.Pos)

		case dex.ItemTryStart:
			if curTry != nil {
				panic("BUG: nested try regions are not supported")
			}
			if cur != nil {
				fallFrom = cur
				cur = nil
			}
			curTry = it.Try
			tryMarkers[it.Try.ID()] = it.Try

		case dex.ItemTryEnd:
			if curTry == nil || curTry.ID() != it.Try.ID() {
				panic("BUG: mismatched try markers")
			}
			if cur != nil {
				fallFrom = cur
				cur = nil
			}
			curTry = nil

		case dex.ItemInsn:
			b := ensureBlock()
			insn := it.Insn
			switch op := insn.Op(); {
			case op == dex.OpGoto:
				// The instruction itself disappears; only the edge remains.
				gotos = append(gotos, pendingGoto{block: b, target: insn.Target()})
				cur = nil
			case op.IsConditionalBranch():
				b.appendInsn(insn)
				branches = append(branches, pendingBranch{insn: insn, block: b})
				fallFrom = b
				cur = nil
			case op.IsTerminal():
				b.appendInsn(insn)
				cur = nil
			default:
				b.appendInsn(insn)
			}
		}
	}
	if cur != nil || fallFrom != nil {
		panic("BUG: method body falls off its end")
	}
	if len(g.blocks) == 0 {
		panic("BUG: empty method body")
	}
	g.entry = g.blocks[0]

	resolve := func(l *dex.Label) *Block {
		b, ok := labelBlock[l]
		if !ok {
			panic(fmt.Sprintf("BUG: branch to unplaced label %p", l))
		}
		return b
	}
	for _, p := range gotos {
		g.AddGotoEdge(p.block, resolve(p.target))
	}
	for _, p := range branches {
		switch p.insn.Op() {
		case dex.OpSwitch:
			for _, c := range p.insn.Cases() {
				g.AddCaseEdge(p.block, resolve(c.Target), c.Key)
			}
		default:
			g.AddBranchEdge(p.block, resolve(p.insn.Target()))
		}
	}

	// Handler blocks and throw edges.
	for id, marker := range tryMarkers {
		region := &tryRegion{}
		for _, h := range marker.Handlers() {
			hb := resolve(h.Target)
			hb.isCatch = true
			region.handlers = append(region.handlers, tryHandler{typ: h.Type, block: hb})
		}
		g.tries[id] = region
	}
	for _, b := range g.blocks {
		if b.tryID == 0 || !blockCanThrow(b) {
			continue
		}
		region := g.tries[b.tryID]
		for idx, h := range region.handlers {
			g.AddThrowEdge(b, h.block, h.typ, idx)
		}
	}

	g.exitValid = false
	return g
}

// Commit linearizes the graph back into the flat stream it was built
// from, in block-id order. Labels are regenerated, fallthrough gotos are
// elided, and try regions are re-emitted around maximal runs of blocks in
// the same region.
func (g *Graph) Commit(code *dex.Code) {
	blocks := g.Blocks()
	var emit []*Block
	for _, b := range blocks {
		if !b.ghost {
			emit = append(emit, b)
		}
	}

	labels := map[*Block]*dex.Label{}
	for _, b := range emit {
		labels[b] = code.NewLabel()
	}

	var items []*dex.Item
	addInsn := func(i *dex.Instruction) {
		items = append(items, &dex.Item{Kind: dex.ItemInsn, Insn: i})
	}

	var openTry *dex.TryMarker
	closeTry := func() {
		if openTry != nil {
			items = append(items, &dex.Item{Kind: dex.ItemTryEnd, Try: openTry})
			openTry = nil
		}
	}

	for n, b := range emit {
		if openTry != nil && b.tryID == 0 {
			closeTry()
		}
		if b.tryID != 0 && openTry == nil {
			region := g.tries[b.tryID]
			handlers := make([]dex.CatchHandler, 0, len(region.handlers))
			for _, h := range region.handlers {
				handlers = append(handlers, dex.CatchHandler{Type: h.typ, Target: labels[h.block]})
			}
			openTry = code.NewTry(handlers...)
			items = append(items, &dex.Item{Kind: dex.ItemTryStart, Try: openTry})
		} else if openTry != nil {
			if prev := emit[n-1]; prev.tryID != b.tryID {
				panic("BUG: adjacent try regions are not supported")
			}
		}

		items = append(items, &dex.Item{Kind: dex.ItemLabel, Label: labels[b]})
		for _, e := range b.entries {
			switch {
			case e.Insn != nil:
				addInsn(e.Insn)
			case e.Pos != nil:
				items = append(items, &dex.Item{Kind: dex.ItemPosition, Pos: e.Pos})
			}
		}

		var next *Block
		if n+1 < len(emit) {
			next = emit[n+1]
		}
		var gotoDst *Block
		var branchEdges []*Edge
		for _, e := range b.succs {
			switch e.kind {
			case EdgeGoto:
				gotoDst = e.dst
			case EdgeBranch:
				branchEdges = append(branchEdges, e)
			}
		}
		if len(branchEdges) > 0 {
			last, ok := b.LastInsn()
			if !ok || !last.Op().IsConditionalBranch() {
				panic("BUG: branch edges without a conditional terminator")
			}
			if last.Op() == dex.OpSwitch {
				cases := make([]dex.SwitchCase, 0, len(branchEdges))
				for _, e := range branchEdges {
					cases = append(cases, dex.SwitchCase{Key: e.caseKey, Target: labels[e.dst]})
				}
				last.SetCases(cases)
			} else {
				last.SetTarget(labels[branchEdges[0].dst])
			}
		}
		if gotoDst != nil && gotoDst != next {
			addInsn(dex.NewGoto(labels[gotoDst]))
		}
	}
	closeTry()

	code.SetItems(items)
}
