package dataflow

import "github.com/MedRedha/redex/internal/dex"

// RegSet is a fixed-capacity bitset over virtual registers.
type RegSet struct {
	bits []uint64
}

// NewRegSet returns an empty set with capacity for regs registers.
func NewRegSet(regs uint32) RegSet {
	return RegSet{bits: make([]uint64, (regs+63)/64)}
}

func (s RegSet) Add(r dex.Reg)    { s.bits[r/64] |= 1 << (r % 64) }
func (s RegSet) Remove(r dex.Reg) { s.bits[r/64] &^= 1 << (r % 64) }

func (s RegSet) Contains(r dex.Reg) bool {
	w := int(r / 64)
	if w >= len(s.bits) {
		return false
	}
	return s.bits[w]&(1<<(r%64)) != 0
}

func (s RegSet) Clone() RegSet {
	return RegSet{bits: append([]uint64(nil), s.bits...)}
}

// UnionInto ors o into s, reporting whether s changed.
func (s RegSet) UnionInto(o RegSet) bool {
	changed := false
	for n, w := range o.bits {
		if s.bits[n]|w != s.bits[n] {
			s.bits[n] |= w
			changed = true
		}
	}
	return changed
}

// Elements lists the member registers in ascending order.
func (s RegSet) Elements() []dex.Reg {
	var out []dex.Reg
	for n, w := range s.bits {
		for bit := 0; bit < 64; bit++ {
			if w&(1<<bit) != 0 {
				out = append(out, dex.Reg(n*64+bit))
			}
		}
	}
	return out
}
