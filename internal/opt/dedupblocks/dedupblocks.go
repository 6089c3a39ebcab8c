// Package dedupblocks merges basic blocks that carry identical code and
// identical successor structure, keeping one canonical copy per method
// and rerouting every predecessor to it. With postfix splitting enabled
// it first carves shared instruction suffixes out of otherwise distinct
// blocks so a later merge round can collapse the tails.
package dedupblocks

import (
	"fmt"
	"sort"

	"github.com/MedRedha/redex/internal/cfg"
	"github.com/MedRedha/redex/internal/dataflow"
	"github.com/MedRedha/redex/internal/dex"
	"github.com/MedRedha/redex/internal/pass"
	"github.com/MedRedha/redex/internal/trace"
	"github.com/MedRedha/redex/internal/walk"
)

// Metric names reported to the pass manager.
const (
	MetricBlocksRemoved  = "blocks_removed"
	MetricBlocksSplit    = "blocks_split"
	MetricEligibleBlocks = "eligible_blocks"
)

// Config controls one run of the pass.
type Config struct {
	// Debug forces a single worker and verifies constructor receivers
	// before and after the structural edits of every method.
	Debug bool
	// SplitPostfix enables the shared-suffix splitting phase.
	SplitPostfix bool
	// SplitMinOpcodeCount is the smallest shared suffix worth a split.
	SplitMinOpcodeCount int
	// MethodDenyList excludes individual methods from the pass.
	MethodDenyList map[*dex.Method]bool
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{SplitPostfix: true, SplitMinOpcodeCount: 3}
}

// Stats accumulates what the pass did across methods.
type Stats struct {
	Eligible int
	Removed  int
	Split    int
	// DupSizes counts merged-group sizes. Gathered only when the
	// DEDUP_BLOCKS trace level is at least 2.
	DupSizes map[int]int
}

func (s Stats) add(o Stats) Stats {
	s.Eligible += o.Eligible
	s.Removed += o.Removed
	s.Split += o.Split
	if len(o.DupSizes) > 0 {
		if s.DupSizes == nil {
			s.DupSizes = map[int]int{}
		}
		for sz, n := range o.DupSizes {
			s.DupSizes[sz] += n
		}
	}
	return s
}

// Run deduplicates blocks in every method body of the scope, reports the
// totals through mgr, and returns them.
func Run(scope *dex.Scope, conf Config, mgr *pass.Manager, workers int) Stats {
	if conf.SplitMinOpcodeCount <= 0 {
		conf.SplitMinOpcodeCount = DefaultConfig().SplitMinOpcodeCount
	}
	if conf.Debug {
		workers = 1
	}
	total := walk.ParallelReduceMethods(scope, workers, func(m *dex.Method) Stats {
		if m.Code() == nil || conf.MethodDenyList[m] {
			return Stats{}
		}
		return dedupMethod(m, conf)
	}, Stats.add)

	if mgr != nil {
		mgr.IncrMetric(MetricBlocksRemoved, int64(total.Removed))
		mgr.IncrMetric(MetricBlocksSplit, int64(total.Split))
		mgr.IncrMetric(MetricEligibleBlocks, int64(total.Eligible))
	}
	trace.Logf(trace.DedupBlocks, 1, "removed %d duplicate blocks, split %d blocks (%d eligible)",
		total.Removed, total.Split, total.Eligible)
	if trace.Enabled(trace.DedupBlocks, 2) {
		sizes := make([]int, 0, len(total.DupSizes))
		for sz := range total.DupSizes {
			sizes = append(sizes, sz)
		}
		sort.Ints(sizes)
		for _, sz := range sizes {
			trace.Logf(trace.DedupBlocks, 2, "group size %d merged %d times", sz, total.DupSizes[sz])
		}
	}
	return total
}

// engine holds the per-method state: the graph under edit and the lazily
// created analyses, which every structural edit invalidates.
type engine struct {
	method *dex.Method
	g      *cfg.Graph
	conf   Config
	stats  Stats

	reach *dataflow.ReachingDefs
	types *dataflow.TypeInference
	live  *dataflow.Liveness
}

func dedupMethod(m *dex.Method, conf Config) Stats {
	code := m.Code()
	e := &engine{method: m, g: cfg.Build(code), conf: conf}
	if conf.Debug {
		e.checkInits()
	}
	// A successful merge round can expose new shared suffixes, so
	// splitting reruns before every merge round until neither phase
	// finds anything.
	for {
		if conf.SplitPostfix {
			e.splitPostfix()
		}
		if !e.dedup() {
			break
		}
	}
	if conf.Debug {
		e.checkInits()
	}
	e.g.Commit(code)
	return e.stats
}

func (e *engine) invalidate() { e.reach, e.types, e.live = nil, nil, nil }

func (e *engine) reaching() *dataflow.ReachingDefs {
	if e.reach == nil {
		e.reach = dataflow.RunReachingDefs(e.g)
	}
	return e.reach
}

func (e *engine) inference() *dataflow.TypeInference {
	if e.types == nil {
		e.types = dataflow.RunTypeInference(e.g)
	}
	return e.types
}

func (e *engine) liveness() *dataflow.Liveness {
	if e.live == nil {
		e.live = dataflow.RunLiveness(e.g)
	}
	return e.live
}

// dedup runs one collect-and-merge round and reports whether it merged
// anything.
func (e *engine) dedup() bool {
	groups := e.collectDuplicates()
	if len(groups) == 0 {
		return false
	}
	e.deduplicate(groups)
	e.invalidate()
	return true
}

// eligible reports whether a block may take part in merging. A block that
// consumes a predecessor's result must stay fused to its producer.
func eligible(b *cfg.Block) bool {
	return b.HasOpcodes() && !b.BeginsWithMoveResult()
}

// collectDuplicates partitions the eligible blocks into groups whose
// members have identical code, interchangeable successor edges, and the
// same exception context, then drops the groups a merge would break.
// Groups come back with their members in ascending id order, ordered by
// the id of their first member.
func (e *engine) collectDuplicates() [][]*cfg.Block {
	type key struct {
		code    uint64
		succ    uint64
		tryID   int
		isCatch bool
	}
	buckets := map[key][]*cfg.Block{}
	for _, b := range e.g.Blocks() {
		if !eligible(b) {
			continue
		}
		e.stats.Eligible++
		k := key{code: b.CodeHash(), succ: b.SuccHash(), tryID: b.TryID(), isCatch: b.IsCatch()}
		buckets[k] = append(buckets[k], b)
	}

	var groups [][]*cfg.Block
	for _, bucket := range buckets {
		// Hash collisions make buckets candidate sets, not groups; the
		// structural predicates partition each bucket.
		for len(bucket) > 0 {
			lead := bucket[0]
			group := []*cfg.Block{lead}
			var rest []*cfg.Block
			for _, b := range bucket[1:] {
				if lead.SameCode(b) && lead.SameSuccessors(b) {
					group = append(group, b)
				} else {
					rest = append(rest, b)
				}
			}
			bucket = rest
			if len(group) >= 2 && !e.unmergeable(group) {
				groups = append(groups, group)
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].ID() < groups[j][0].ID() })
	return groups
}

// unmergeable reports whether merging the group would either reroute a
// constructor call onto a receiver allocated by a different instruction
// in some member, or leave a live-in register with conflicting incoming
// types that the verifier would reject in the merged block.
func (e *engine) unmergeable(group []*cfg.Block) bool {
	// Constructor receivers defined outside a member are fine as long as
	// every member traces each receiver to the same single definition.
	var agreed []*dex.Instruction
	for n, b := range group {
		outside, ok := e.initReceiverOutsideDefs(b)
		if !ok {
			return true
		}
		if n == 0 {
			agreed = outside
			continue
		}
		if len(outside) != len(agreed) {
			panic(fmt.Sprintf("BUG: duplicate blocks in %s disagree on constructor count", e.method.FullName()))
		}
		for i := range outside {
			if outside[i] != agreed[i] {
				return true
			}
		}
	}
	return e.typeConflict(group)
}

func isInitInvoke(i *dex.Instruction) bool {
	return i.Op() == dex.OpInvokeDirect && i.Method().Name() == "<init>"
}

func hasInitInvoke(b *cfg.Block) bool {
	found := false
	b.ForEachInsn(func(i *dex.Instruction) {
		if isInitInvoke(i) {
			found = true
		}
	})
	return found
}

// initReceiverOutsideDefs lists, per constructor call in block order, the
// receiver definition when it lives outside the block. A receiver whose
// allocation precedes it inside the same block contributes nothing. The
// second result is false when a receiver has no single tracked
// definition, which disqualifies the block from merging outright.
func (e *engine) initReceiverOutsideDefs(b *cfg.Block) ([]*dex.Instruction, bool) {
	if !hasInitInvoke(b) {
		return nil, true
	}
	env := e.reaching().EntryStateAt(b)
	seen := map[*dex.Instruction]bool{}
	var outside []*dex.Instruction
	firstInsn, _ := b.FirstInsn()
	for _, ent := range b.Entries() {
		insn := ent.Insn
		if insn == nil {
			continue
		}
		if isInitInvoke(insn) {
			defs := env.Get(insn.Src(0))
			if defs.IsTop() || len(defs.Insns()) != 1 {
				return nil, false
			}
			def := defs.Insns()[0]
			// A leading move-result belongs to a producer in another
			// block, so a receiver it defines is an outside one too.
			if !seen[def] || (def.Op().IsMoveResultAny() && def == firstInsn) {
				outside = append(outside, def)
			}
		}
		seen[insn] = true
		e.reaching().AnalyzeInstruction(insn, &env)
	}
	return outside, true
}

// typeConflict joins the incoming type environments of all group members,
// which is what the merge does to the verifier's view. The merge is legal
// when some member's own entry environment already equals the join on
// every live-in register, reference classes included: that member proves
// the joined state verifies.
func (e *engine) typeConflict(group []*cfg.Block) bool {
	ti := e.inference()
	liveIn := e.liveness().LiveInAt(group[0])

	var joined dataflow.TypeEnv
	for n, b := range group {
		first, ok := b.FirstInsn()
		if !ok {
			return true
		}
		env, ok := ti.EnvBefore(first)
		if !ok {
			return true
		}
		if n == 0 {
			joined = env.Clone()
		} else {
			joined.JoinWith(env)
		}
	}

	for _, b := range group {
		first, _ := b.FirstInsn()
		env, _ := ti.EnvBefore(first)
		matches := true
		for _, r := range liveIn.Elements() {
			jv := joined.Get(r)
			if jv.Tag == dataflow.TagTop || jv.Tag == dataflow.TagBottom {
				return true
			}
			if jv != env.Get(r) {
				matches = false
				break
			}
		}
		if matches {
			return false
		}
	}
	return true
}

// deduplicate reroutes every non-canonical member of every group into the
// group's first (lowest-id) member. Debug positions of the deleted blocks
// are first redirected onto the canonical block's positions so parent
// links elsewhere in the method stay live.
func (e *engine) deduplicate(groups [][]*cfg.Block) {
	collectSizes := trace.Enabled(trace.DedupBlocks, 2)

	repl := map[dex.PosID]dex.PosID{}
	for _, group := range groups {
		for _, dup := range group[1:] {
			mapPositions(repl, group[0], dup)
		}
	}
	if len(repl) > 0 {
		e.g.Positions().ReplaceParents(repl)
	}

	for _, group := range groups {
		canon := group[0]
		for _, dup := range group[1:] {
			e.g.ReplaceBlock(dup, canon)
			e.stats.Removed++
		}
		if collectSizes {
			if e.stats.DupSizes == nil {
				e.stats.DupSizes = map[int]int{}
			}
			e.stats.DupSizes[len(group)]++
		}
	}
}

// mapPositions maps the i-th debug position of dup to the i-th position
// of the canonical block. When dup carries more positions than canon the
// last canonical one is reused; when canon carries none, dup's positions
// map to zero, which clears dangling parent links.
func mapPositions(repl map[dex.PosID]dex.PosID, canon, dup *cfg.Block) {
	var canonPos []dex.PosID
	for _, ent := range canon.Entries() {
		if ent.Pos != nil {
			canonPos = append(canonPos, ent.Pos.ID())
		}
	}

	i := 0
	for _, ent := range dup.Entries() {
		if ent.Pos == nil {
			continue
		}
		var rep dex.PosID
		if len(canonPos) > 0 {
			idx := i
			if idx >= len(canonPos) {
				idx = len(canonPos) - 1
			}
			rep = canonPos[idx]
		}
		repl[ent.Pos.ID()] = rep
		i++
	}
}

// checkInits asserts that every constructor call's receiver is still the
// object allocated in front of it or an incoming parameter. A violation
// after an edit is a bug in the merge logic, not a property of the input.
func (e *engine) checkInits() {
	reach := dataflow.RunReachingDefs(e.g)
	for _, b := range e.g.Blocks() {
		env := reach.EntryStateAt(b)
		for _, ent := range b.Entries() {
			insn := ent.Insn
			if insn == nil {
				continue
			}
			if isInitInvoke(insn) {
				defs := env.Get(insn.Src(0))
				if defs.IsTop() {
					panic(fmt.Sprintf("BUG: constructor receiver in %s has no tracked definition", e.method.FullName()))
				}
				for _, def := range defs.Insns() {
					if def.Op() != dex.OpLoadParam && !def.Op().IsMoveResultAny() {
						panic(fmt.Sprintf("BUG: constructor receiver in %s defined by %s", e.method.FullName(), def.Op()))
					}
				}
			}
			reach.AnalyzeInstruction(insn, &env)
		}
	}
}
