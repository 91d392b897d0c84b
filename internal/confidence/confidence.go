// Package confidence rates how much evidence backs a split/keep decision
// on a 0..255 scale, where >=100 gates tree mutation.
package confidence

import (
	"math"

	"github.com/hexmap/aggregator/internal/recommend"
)

const (
	MinAggPrefixLen  = 16
	SamplesPerSubnet = 16
	ThreshKeep64     = 4 * SamplesPerSubnet
	ThreshSplit64    = 16 * SamplesPerSubnet

	// SufficientlySure is the threshold at and above which a
	// recommendation is trusted enough to mutate the tree.
	SufficientlySure = 100
)

// Rate computes the 0..255 confidence for a recommendation at the given
// prefix length. CannotDetermine is rated against the keep threshold.
func Rate(rec recommend.SplitRecommendation, prefixLen int) uint8 {
	p := prefixLen
	if p < MinAggPrefixLen {
		p = MinAggPrefixLen
	}
	height := 64 - p

	evidence := rec.Priority().SupportingObservations

	var thresh float64
	switch rec.(type) {
	case recommend.YesSplit:
		thresh = math.Pow(1.4, float64(height)/4) * ThreshSplit64
	default: // NoKeep and CannotDetermine both rate against the keep threshold.
		thresh = math.Pow(2, float64(height)/4) * ThreshKeep64
	}
	thresh = math.Floor(thresh)
	if thresh <= 0 {
		return 0
	}

	raw := math.Floor(float64(evidence) * 100 / thresh)
	return clamp(raw)
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
