// Package recommend implements the split/keep decision engine: a pure,
// deterministic function from a node's two candidate children to a
// SplitRecommendation with supporting evidence.
package recommend

import (
	"github.com/hexmap/aggregator/internal/subnet"
)

// AlgoVersion is bumped only when the algorithm's semantics change, so a
// stored SplitAnalysisResult can be recognized as stale.
const AlgoVersion int32 = 1

// PriorityClass is ordered; lower values are higher priority.
type PriorityClass int

const (
	HighFresh PriorityClass = iota
	HighOverlapping
	HighDisjoint
	MediumSameMulti
	MediumSameRatio
	MediumSameMany
	MediumSameSingle
	MediumMultiWeird
	LowWeird
	LowUnknown
)

// Priority pairs a class with how much evidence backs the decision.
type Priority struct {
	Class                 PriorityClass
	SupportingObservations int32
}

// SplitRecommendation is the tagged union of possible outcomes:
// YesSplit, NoKeep, or CannotDetermine, each carrying a Priority.
type SplitRecommendation interface {
	isSplitRecommendation()
	Priority() Priority
}

type YesSplit struct{ P Priority }

func (y YesSplit) isSplitRecommendation() {}
func (y YesSplit) Priority() Priority     { return y.P }

type NoKeep struct{ P Priority }

func (n NoKeep) isSplitRecommendation() {}
func (n NoKeep) Priority() Priority     { return n.P }

type CannotDetermine struct{ P Priority }

func (c CannotDetermine) isSplitRecommendation() {}
func (c CannotDetermine) Priority() Priority     { return c.P }

// ShouldSplit reports the tri-state split/keep/unknown verdict as the
// store layer needs it: true for YesSplit, false for NoKeep, nil (via ok)
// for CannotDetermine.
func ShouldSplit(r SplitRecommendation) (shouldSplit bool, ok bool) {
	switch r.(type) {
	case YesSplit:
		return true, true
	case NoKeep:
		return false, true
	default:
		return false, false
	}
}

// Recommend is the pure decision function (§4.F). It never mutates s.
func Recommend(s *subnet.Subnets) SplitRecommendation {
	switch diff := s.LhrDiff().(type) {
	case subnet.LhrBothNone:
		return recommendFromWeird(s)

	case subnet.LhrBothSameSingle:
		return NoKeep{Priority{
			Class:                  MediumSameSingle,
			SupportingObservations: sumHits(diff.Diff),
		}}

	case subnet.LhrBothSameMultiple:
		if len(diff.Shared) >= 5 {
			return NoKeep{Priority{
				Class:                  MediumSameMany,
				SupportingObservations: sumAllHits(diff.Shared) / 4,
			}}
		}
		return ratioTest(diff.Shared)

	case subnet.LhrOverlappingOrDisjoint:
		class := HighDisjoint
		if len(diff.Shared) > 0 {
			class = HighOverlapping
		}
		evidence := sumAllHits(diff.Distinct) + derankedSum(diff.Shared)
		return YesSplit{Priority{Class: class, SupportingObservations: evidence}}
	}

	// Unreachable: every LhrSetDifference variant is handled above.
	return CannotDetermine{Priority{Class: LowUnknown}}
}

func recommendFromWeird(s *subnet.Subnets) SplitRecommendation {
	switch diff := s.WeirdDiff().(type) {
	case subnet.WeirdBothNone:
		unresponsive := s.Left.UnresponsiveCount + s.Right.UnresponsiveCount
		return CannotDetermine{Priority{Class: LowUnknown, SupportingObservations: unresponsive}}

	case subnet.WeirdBothSameSingle:
		return NoKeep{Priority{Class: LowWeird, SupportingObservations: sumHits(diff.Diff)}}

	case subnet.WeirdBothSameMultiple:
		return CannotDetermine{Priority{Class: MediumMultiWeird, SupportingObservations: sumAllHits(diff.Shared)}}

	case subnet.WeirdOverlappingOrDisjoint:
		return YesSplit{Priority{Class: MediumMultiWeird, SupportingObservations: sumAllHits(diff.Distinct)}}
	}

	return CannotDetermine{Priority{Class: LowUnknown}}
}

// ratioTest handles BothSameMultiple with 2..4 shared LHRs: compares each
// side's per-LHR share of its own total, calling it "different" when the
// absolute percentage-point gap exceeds 15.
func ratioTest[K comparable](shared map[K]subnet.DiffEntry) SplitRecommendation {
	var totalLeft, totalRight int32
	for _, d := range shared {
		totalLeft += d.HitCounts[0]
		totalRight += d.HitCounts[1]
	}

	different := false
	for _, d := range shared {
		l, r := d.HitCounts[0], d.HitCounts[1]
		if l < 4 || r < 4 {
			continue
		}
		pctLeft := float64(l) * 100 / float64(totalLeft)
		pctRight := float64(r) * 100 / float64(totalRight)
		if abs(pctLeft-pctRight) > 15 {
			different = true
			break
		}
	}

	if different {
		return YesSplit{Priority{Class: MediumSameMulti, SupportingObservations: derankedSum(shared)}}
	}
	return NoKeep{Priority{Class: MediumSameRatio, SupportingObservations: sumAllHits(shared)}}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func sumHits(d subnet.DiffEntry) int32 {
	return d.HitCounts[0] + d.HitCounts[1]
}

func sumAllHits[K comparable](m map[K]subnet.DiffEntry) int32 {
	var total int32
	for _, d := range m {
		total += sumHits(d)
	}
	return total
}

// derankedSum identifies the single key with the greatest total hits and
// halves its contribution before summing, so the most popular LHR or
// weird type (likely a common uplink) can't alone vouch against a split.
func derankedSum[K comparable](m map[K]subnet.DiffEntry) int32 {
	if len(m) == 0 {
		return 0
	}

	var maxKey K
	var maxHits int32 = -1
	for k, d := range m {
		h := sumHits(d)
		if h > maxHits {
			maxHits = h
			maxKey = k
		}
	}

	var total int32
	for k, d := range m {
		h := sumHits(d)
		if k == maxKey {
			total += h / 2
		} else {
			total += h
		}
	}
	return total
}
