package dedupblocks

import (
	"sort"

	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dex"
)

// splitPostfix carves shared instruction suffixes out of blocks that
// already agree on their successors, producing identical tail blocks that
// the following merge rounds collapse into one.
func (e *engine) splitPostfix() {
	before := e.stats.Split
	for _, group := range e.collectSplitGroups() {
		e.splitGroup(group)
	}
	if e.stats.Split != before {
		e.invalidate()
	}
}

// collectSplitGroups partitions the blocks by successor structure and
// exception context alone; the code may differ, that is the point of
// splitting. Blocks too small to hold a worthwhile suffix stay out.
// Members and groups come back in id order.
func (e *engine) collectSplitGroups() [][]*cfg.Block {
	type key struct {
		succ    uint64
		tryID   int
		isCatch bool
	}
	buckets := map[key][]*cfg.Block{}
	for _, b := range e.g.Blocks() {
		if !b.HasOpcodes() || b.NumOpcodes() < e.conf.SplitMinOpcodeCount {
			continue
		}
		k := key{succ: b.SuccHash(), tryID: b.TryID(), isCatch: b.IsCatch()}
		buckets[k] = append(buckets[k], b)
	}

	var groups [][]*cfg.Block
	for _, bucket := range buckets {
		for len(bucket) > 0 {
			lead := bucket[0]
			group := []*cfg.Block{lead}
			var rest []*cfg.Block
			for _, b := range bucket[1:] {
				if lead.SameSuccessors(b) {
					group = append(group, b)
				} else {
					rest = append(rest, b)
				}
			}
			bucket = rest
			if len(group) >= 2 {
				groups = append(groups, group)
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].ID() < groups[j][0].ID() })
	return groups
}

// walker tracks one block during the backward lockstep walk. pos is the
// entry index of the instruction under consideration, -1 once the walk
// has consumed the whole block.
type walker struct {
	b   *cfg.Block
	pos int
}

func (w *walker) insn() *dex.Instruction { return w.b.Entries()[w.pos].Insn }

// splitGroup walks the group's blocks backward in lockstep. At each depth
// the blocks vote on the instruction; blocks that disagree with the
// majority drop out, the rest advance one instruction deeper. The saving
// of splitting at depth d with n sharers is d*(n-1) removable
// instructions, and the deepest point with the best saving wins. The
// winners are then split just above the shared suffix.
func (e *engine) splitGroup(group []*cfg.Block) {
	walkers := make([]*walker, 0, len(group))
	for _, b := range group {
		if idx := b.LastInsnIndex(); idx >= 0 {
			walkers = append(walkers, &walker{b: b, pos: idx})
		}
	}

	var (
		bestSavings int
		bestBlocks  []*cfg.Block
		bestSplits  []int
		depth       int
	)
	for len(walkers) >= 2 {
		best := 0
		counts := make([]int, len(walkers))
		for i := range walkers {
			for j := range walkers {
				if walkers[i].insn().Equals(walkers[j].insn()) {
					counts[i]++
				}
			}
			if counts[i] > counts[best] {
				best = i
			}
		}
		if counts[best] < 2 {
			break
		}
		majority := walkers[best].insn()

		var survivors []*walker
		for _, w := range walkers {
			if w.insn().Equals(majority) {
				w.pos = w.b.PrevInsnIndex(w.pos)
				survivors = append(survivors, w)
			}
		}
		walkers = survivors
		depth++

		// pos now sits one instruction above the shared suffix, which is
		// exactly where the block would be split. Suffixes shallower than
		// the configured minimum never become the best candidate, so a
		// wide shallow share cannot shadow a deeper qualifying one.
		if savings := depth * (len(walkers) - 1); savings > bestSavings &&
			depth >= e.conf.SplitMinOpcodeCount {
			bestSavings = savings
			bestBlocks = bestBlocks[:0]
			bestSplits = bestSplits[:0]
			for _, w := range walkers {
				bestBlocks = append(bestBlocks, w.b)
				bestSplits = append(bestSplits, w.pos)
			}
		}

		var deeper []*walker
		for _, w := range walkers {
			if w.pos >= 0 {
				deeper = append(deeper, w)
			}
		}
		walkers = deeper
	}

	if len(bestBlocks) < 2 {
		return
	}
	for i, b := range bestBlocks {
		idx := bestSplits[i]
		if idx < 0 {
			// The whole block is the suffix; the merge rounds take it as is.
			continue
		}
		// Keep result pairs fused by moving the boundary past consumers.
		// Every winner shares the suffix, so the boundary moves by the
		// same amount in each and the tails stay identical.
		next := b.NextInsnIndex(idx)
		for next >= 0 && b.Entries()[next].Insn.Op().IsMoveResultAny() {
			idx = next
			next = b.NextInsnIndex(idx)
		}
		if next < 0 {
			continue
		}
		if tail := e.g.SplitBlock(b, idx); tail != nil {
			e.stats.Split++
		}
	}
}
