package dex

// Label marks a branch target in the flat stream. Labels compare by
// pointer identity.
type Label struct {
	id int
}

// CatchHandler is one handler of a try region, in handler order. A nil
// type is the catch-all handler.
type CatchHandler struct {
	Type   *Type
	Target *Label
}

// TryMarker delimits a try region in the flat stream; the same marker
// appears in a start item and an end item.
type TryMarker struct {
	id       int
	handlers []CatchHandler
}

func (t *TryMarker) ID() int                  { return t.id }
func (t *TryMarker) Handlers() []CatchHandler { return t.handlers }

// ItemKind tags the flat-stream entry kinds.
type ItemKind uint8

const (
	ItemInsn ItemKind = iota
	ItemLabel
	ItemPosition
	ItemTryStart
	ItemTryEnd
)

// Item is one entry of the flat instruction stream: an instruction, a
// branch-target label, a debug position, or a try-region boundary.
type Item struct {
	Kind  ItemKind
	Insn  *Instruction
	Label *Label
	Pos   *Position
	Try   *TryMarker
}

// Code is a method body as a flat stream. A CFG is built from it on
// demand, edited, and committed back; the stream is the only persistent
// representation.
type Code struct {
	regs      uint32
	items     []*Item
	positions *PosTable
	nextLabel int
	nextTry   int
}

func NewCode(regs uint32) *Code {
	return &Code{regs: regs, positions: NewPosTable(), nextTry: 1}
}

// Regs is the number of virtual registers the body uses.
func (c *Code) Regs() uint32       { return c.regs }
func (c *Code) SetRegs(n uint32)   { c.regs = n }
func (c *Code) Items() []*Item     { return c.items }
func (c *Code) SetItems(it []*Item) { c.items = it }

func (c *Code) Positions() *PosTable { return c.positions }

func (c *Code) NewLabel() *Label {
	c.nextLabel++
	return &Label{id: c.nextLabel}
}

func (c *Code) NewPosition(line uint32) *Position { return c.positions.New(line) }

func (c *Code) NewTry(handlers ...CatchHandler) *TryMarker {
	t := &TryMarker{id: c.nextTry, handlers: handlers}
	c.nextTry++
	return t
}

func (c *Code) AddInsn(i *Instruction) *Code {
	c.items = append(c.items, &Item{Kind: ItemInsn, Insn: i})
	return c
}

func (c *Code) AddLabel(l *Label) *Code {
	c.items = append(c.items, &Item{Kind: ItemLabel, Label: l})
	return c
}

func (c *Code) AddPosition(p *Position) *Code {
	c.items = append(c.items, &Item{Kind: ItemPosition, Pos: p})
	return c
}

func (c *Code) AddTryStart(t *TryMarker) *Code {
	c.items = append(c.items, &Item{Kind: ItemTryStart, Try: t})
	return c
}

func (c *Code) AddTryEnd(t *TryMarker) *Code {
	c.items = append(c.items, &Item{Kind: ItemTryEnd, Try: t})
	return c
}

// Instructions returns the instructions in stream order, skipping
// non-instruction items.
func (c *Code) Instructions() []*Instruction {
	var out []*Instruction
	for _, it := range c.items {
		if it.Kind == ItemInsn {
			out = append(out, it.Insn)
		}
	}
	return out
}

// RemoveInsn deletes the item holding the given instruction, by identity.
func (c *Code) RemoveInsn(insn *Instruction) bool {
	for n, it := range c.items {
		if it.Kind == ItemInsn && it.Insn == insn {
			c.items = append(c.items[:n], c.items[n+1:]...)
			return true
		}
	}
	return false
}
