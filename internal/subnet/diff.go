package subnet

import (
	"net/netip"

	"github.com/hexmap/aggregator/internal/measure"
)

// DiffEntry carries the left/right hit counts for one shared or
// one-sided key.
type DiffEntry struct {
	HitCounts [2]int32 // [0]=left, [1]=right
}

// LhrSetDifference is the tagged union describing how two children's LHR
// key sets relate: BothNone, BothSameSingle, BothSameMultiple, or
// OverlappingOrDisjoint.
type LhrSetDifference interface {
	isLhrSetDifference()
}

type LhrBothNone struct{}

func (LhrBothNone) isLhrSetDifference() {}

type LhrBothSameSingle struct {
	Lhr  netip.Addr
	Diff DiffEntry
}

func (LhrBothSameSingle) isLhrSetDifference() {}

// LhrBothSameMultiple covers identical sets of size >= 2.
type LhrBothSameMultiple struct {
	Shared map[netip.Addr]DiffEntry
}

func (LhrBothSameMultiple) isLhrSetDifference() {}

type LhrOverlappingOrDisjoint struct {
	Shared   map[netip.Addr]DiffEntry
	Distinct map[netip.Addr]DiffEntry
}

func (LhrOverlappingOrDisjoint) isLhrSetDifference() {}

// LhrDiff computes the set relation between the two children's LHR keys.
func (s *Subnets) LhrDiff() LhrSetDifference {
	leftKeys := lhrKeys(s.Left)
	rightKeys := lhrKeys(s.Right)

	shared, distinct := diffKeySets(leftKeys, rightKeys, func(k netip.Addr) DiffEntry {
		return DiffEntry{HitCounts: [2]int32{lhrHits(s.Left, k), lhrHits(s.Right, k)}}
	})

	if len(shared) == 0 && len(distinct) == 0 {
		return LhrBothNone{}
	}
	if len(distinct) == 0 {
		if len(shared) == 1 {
			for addr, d := range shared {
				return LhrBothSameSingle{Lhr: addr, Diff: d}
			}
		}
		return LhrBothSameMultiple{Shared: shared}
	}
	return LhrOverlappingOrDisjoint{Shared: shared, Distinct: distinct}
}

// WeirdSetDifference mirrors LhrSetDifference over WeirdType keys.
type WeirdSetDifference interface {
	isWeirdSetDifference()
}

type WeirdBothNone struct{}

func (WeirdBothNone) isWeirdSetDifference() {}

type WeirdBothSameSingle struct {
	Weird measure.WeirdType
	Diff  DiffEntry
}

func (WeirdBothSameSingle) isWeirdSetDifference() {}

type WeirdBothSameMultiple struct {
	Shared map[measure.WeirdType]DiffEntry
}

func (WeirdBothSameMultiple) isWeirdSetDifference() {}

type WeirdOverlappingOrDisjoint struct {
	Shared   map[measure.WeirdType]DiffEntry
	Distinct map[measure.WeirdType]DiffEntry
}

func (WeirdOverlappingOrDisjoint) isWeirdSetDifference() {}

// WeirdDiff computes the set relation between the two children's
// weirdness keys.
func (s *Subnets) WeirdDiff() WeirdSetDifference {
	leftKeys := weirdKeys(s.Left)
	rightKeys := weirdKeys(s.Right)

	shared, distinct := diffKeySetsWeird(leftKeys, rightKeys, func(k measure.WeirdType) DiffEntry {
		return DiffEntry{HitCounts: [2]int32{weirdHits(s.Left, k), weirdHits(s.Right, k)}}
	})

	if len(shared) == 0 && len(distinct) == 0 {
		return WeirdBothNone{}
	}
	if len(distinct) == 0 {
		if len(shared) == 1 {
			for w, d := range shared {
				return WeirdBothSameSingle{Weird: w, Diff: d}
			}
		}
		return WeirdBothSameMultiple{Shared: shared}
	}
	return WeirdOverlappingOrDisjoint{Shared: shared, Distinct: distinct}
}

func lhrKeys(t *measure.Tree) map[netip.Addr]struct{} {
	out := make(map[netip.Addr]struct{}, len(t.LastHopRouters))
	for addr := range t.LastHopRouters {
		out[addr] = struct{}{}
	}
	return out
}

func lhrHits(t *measure.Tree, addr netip.Addr) int32 {
	if rec, ok := t.LastHopRouters[addr]; ok {
		return rec.HitCount
	}
	return 0
}

func weirdKeys(t *measure.Tree) map[measure.WeirdType]struct{} {
	out := make(map[measure.WeirdType]struct{}, len(t.Weirdness))
	for w := range t.Weirdness {
		out[w] = struct{}{}
	}
	return out
}

func weirdHits(t *measure.Tree, w measure.WeirdType) int32 {
	if rec, ok := t.Weirdness[w]; ok {
		return rec.HitCount
	}
	return 0
}

func diffKeySets(left, right map[netip.Addr]struct{}, entry func(netip.Addr) DiffEntry) (shared, distinct map[netip.Addr]DiffEntry) {
	shared = make(map[netip.Addr]DiffEntry)
	distinct = make(map[netip.Addr]DiffEntry)
	for addr := range left {
		if _, ok := right[addr]; ok {
			shared[addr] = entry(addr)
		} else {
			distinct[addr] = entry(addr)
		}
	}
	for addr := range right {
		if _, ok := left[addr]; !ok {
			distinct[addr] = entry(addr)
		}
	}
	return shared, distinct
}

func diffKeySetsWeird(left, right map[measure.WeirdType]struct{}, entry func(measure.WeirdType) DiffEntry) (shared, distinct map[measure.WeirdType]DiffEntry) {
	shared = make(map[measure.WeirdType]DiffEntry)
	distinct = make(map[measure.WeirdType]DiffEntry)
	for w := range left {
		if _, ok := right[w]; ok {
			shared[w] = entry(w)
		} else {
			distinct[w] = entry(w)
		}
	}
	for w := range right {
		if _, ok := left[w]; !ok {
			distinct[w] = entry(w)
		}
	}
	return shared, distinct
}
