package cfg

import "github.com/MedRedha/redex/internal/dex"

// BlockID is a stable creation-order id. Lower ids were created earlier;
// every deterministic tie-break and every canonical-representative choice
// in the passes is "lowest id wins".
type BlockID uint32

// Entry is one ordered element of a block: an instruction or a debug
// position marker. Exactly one field is set.
type Entry struct {
	Insn *dex.Instruction
	Pos  *dex.Position
}

// Block is a basic block. Its final instruction, if any, is either a
// control transfer or the block has exactly one goto successor.
type Block struct {
	id      BlockID
	entries []Entry
	succs   []*Edge
	preds   []*Edge
	tryID   int // 0 = not inside a try region
	isCatch bool
	ghost   bool // synthetic exit block
	removed bool
}

func (b *Block) ID() BlockID { return b.id }

func (b *Block) Entries() []Entry { return b.entries }

// SetEntries replaces the block's contents. The caller keeps the block's
// terminator consistent with its outgoing edges.
func (b *Block) SetEntries(entries []Entry) { b.entries = entries }

func (b *Block) Succs() []*Edge { return b.succs }
func (b *Block) Preds() []*Edge { return b.preds }

// TryID is the enclosing try region, 0 when none.
func (b *Block) TryID() int { return b.tryID }

// IsCatch reports whether the block is the start of a catch handler.
func (b *Block) IsCatch() bool { return b.isCatch }

// SameTry reports whether both blocks sit in the same try region.
func (b *Block) SameTry(o *Block) bool { return b.tryID == o.tryID }

func (b *Block) appendInsn(i *dex.Instruction) {
	b.entries = append(b.entries, Entry{Insn: i})
}

func (b *Block) appendPos(p *dex.Position) {
	b.entries = append(b.entries, Entry{Pos: p})
}

// FirstInsn returns the first instruction, skipping position markers.
func (b *Block) FirstInsn() (*dex.Instruction, bool) {
	for _, e := range b.entries {
		if e.Insn != nil {
			return e.Insn, true
		}
	}
	return nil, false
}

// LastInsn returns the last instruction, skipping position markers.
func (b *Block) LastInsn() (*dex.Instruction, bool) {
	for n := len(b.entries) - 1; n >= 0; n-- {
		if e := b.entries[n]; e.Insn != nil {
			return e.Insn, true
		}
	}
	return nil, false
}

// LastInsnIndex returns the entry index of the last instruction, or -1.
func (b *Block) LastInsnIndex() int {
	for n := len(b.entries) - 1; n >= 0; n-- {
		if b.entries[n].Insn != nil {
			return n
		}
	}
	return -1
}

// PrevInsnIndex returns the greatest instruction entry index strictly
// below from, or -1 when none is left. Passing len(entries) starts a
// backward walk.
func (b *Block) PrevInsnIndex(from int) int {
	for n := from - 1; n >= 0; n-- {
		if b.entries[n].Insn != nil {
			return n
		}
	}
	return -1
}

// NextInsnIndex returns the least instruction entry index strictly above
// from, or -1.
func (b *Block) NextInsnIndex(from int) int {
	for n := from + 1; n < len(b.entries); n++ {
		if b.entries[n].Insn != nil {
			return n
		}
	}
	return -1
}

func (b *Block) HasOpcodes() bool {
	_, ok := b.FirstInsn()
	return ok
}

func (b *Block) NumOpcodes() int {
	n := 0
	for _, e := range b.entries {
		if e.Insn != nil {
			n++
		}
	}
	return n
}

// BeginsWithMoveResult reports whether the block's first instruction
// consumes a result produced in a predecessor. Such a block must stay
// fused to its producer and is ineligible for independent merging.
func (b *Block) BeginsWithMoveResult() bool {
	first, ok := b.FirstInsn()
	return ok && first.Op().IsMoveResultAny()
}

// ForEachInsn calls fn for every instruction in order.
func (b *Block) ForEachInsn(fn func(*dex.Instruction)) {
	for _, e := range b.entries {
		if e.Insn != nil {
			fn(e.Insn)
		}
	}
}

// ForEachInsnReverse calls fn for every instruction in reverse order.
func (b *Block) ForEachInsnReverse(fn func(*dex.Instruction)) {
	for n := len(b.entries) - 1; n >= 0; n-- {
		if i := b.entries[n].Insn; i != nil {
			fn(i)
		}
	}
}

// SameCode reports byte-for-byte structural equality of the two blocks'
// instruction streams, ignoring position markers.
func (b *Block) SameCode(o *Block) bool {
	bIdx := b.NextInsnIndex(-1)
	oIdx := o.NextInsnIndex(-1)
	for bIdx >= 0 && oIdx >= 0 {
		if !b.entries[bIdx].Insn.Equals(o.entries[oIdx].Insn) {
			return false
		}
		bIdx = b.NextInsnIndex(bIdx)
		oIdx = o.NextInsnIndex(oIdx)
	}
	return bIdx < 0 && oIdx < 0
}

// CodeHash xors the structural hashes of the block's instructions,
// mirroring the structure of SameCode for bucketing.
func (b *Block) CodeHash() uint64 {
	var h uint64
	b.ForEachInsn(func(i *dex.Instruction) { h ^= i.Hash() })
	return h
}

// SuccHash folds the successor block ids, for bucketing blocks with
// equal successor structure.
func (b *Block) SuccHash() uint64 {
	var h uint64
	for _, e := range b.succs {
		h ^= uint64(e.dst.id)
	}
	return h
}

// SameSuccessors reports whether every successor edge of b has an
// equivalent (ignoring source) edge out of o, and the counts match.
func (b *Block) SameSuccessors(o *Block) bool {
	if len(b.succs) != len(o.succs) {
		return false
	}
	for _, be := range b.succs {
		found := false
		for _, oe := range o.succs {
			if be.EqualsIgnoreSource(oe) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
