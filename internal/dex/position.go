package dex

// PosID identifies a debug position within one method. Zero means "no
// position"; parent links are stored as ids, never as pointers, so a
// one-shot replacement-map rewrite can repair them without any
// use-after-delete window.
type PosID uint32

// Position is a debug-position marker carrying source-line metadata. The
// parent link points at the position of the enclosing (inlined) call site.
type Position struct {
	id     PosID
	line   uint32
	parent PosID
}

func (p *Position) ID() PosID     { return p.id }
func (p *Position) Line() uint32  { return p.line }
func (p *Position) Parent() PosID { return p.parent }

func (p *Position) SetParent(parent PosID) { p.parent = parent }

// PosTable is the id-indexed table owning every position of one method.
type PosTable struct {
	next PosID
	byID map[PosID]*Position
}

func NewPosTable() *PosTable {
	return &PosTable{next: 1, byID: map[PosID]*Position{}}
}

// New allocates a position with the next id.
func (t *PosTable) New(line uint32) *Position {
	p := &Position{id: t.next, line: line}
	t.byID[p.id] = p
	t.next++
	return p
}

// Get returns the position for id, or nil for PosID(0) or a deleted id.
func (t *PosTable) Get(id PosID) *Position { return t.byID[id] }

// Remove deletes a position from the table. Callers must have rewritten
// any parent links to it first (see ReplaceParents).
func (t *PosTable) Remove(id PosID) { delete(t.byID, id) }

// ReplaceParents rewrites, in one pass, every parent link found in the
// replacement map. A mapping to zero clears the link. This runs before the
// mapped positions are deleted so no link ever dangles.
func (t *PosTable) ReplaceParents(replacement map[PosID]PosID) {
	for _, p := range t.byID {
		if p.parent == 0 {
			continue
		}
		if repl, ok := replacement[p.parent]; ok {
			p.parent = repl
		}
	}
}
