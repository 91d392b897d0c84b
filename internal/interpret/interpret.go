package interpret

import (
	"net/netip"

	"github.com/bits-and-blooms/bitset"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/net64"
)

// Interpretation is the output of interpreting one probe response: a set
// of per-/64 measurement updates, plus an optional follow-up traceroute.
type Interpretation struct {
	Updates  *net64.Map[*measure.Tree]
	FollowUp *EchoFollowUp

	// DuplicateSplits counts split entries whose NetIndex repeats
	// within one response; their responses are ignored so a malformed
	// or retried message can't double-count a subnet's result.
	DuplicateSplits int
}

// maxDedupeIndices bounds the bitset a single response's SubnetPrefixLen
// can allocate; beyond it duplicate split indices go undetected rather
// than risk an unbounded allocation from a malformed message.
const maxDedupeIndices = 1 << 20

func splitIndexTracker(resp EchoProbeResponse) *bitset.BitSet {
	depth := int(resp.SubnetPrefixLen) - resp.TargetNet.Bits()
	if depth <= 0 || depth > 20 {
		return nil
	}
	return bitset.New(uint(1) << uint(depth))
}

func newInterpretation() *Interpretation {
	return &Interpretation{Updates: net64.New[*measure.Tree]()}
}

func treeFor(updates *net64.Map[*measure.Tree], addr netip.Addr) (*measure.Tree, error) {
	return updates.InsertOrDefault(addr, func() *measure.Tree {
		return measure.Empty(netip.PrefixFrom(addr, 64).Masked())
	})
}

func lhrSourceForUnreach(kind DestUnreachKind) (measure.LhrSource, bool) {
	switch kind {
	case UnreachNoRoute:
		return measure.LhrSourceUnreachRoute, true
	case UnreachAdminProhibited:
		return measure.LhrSourceUnreachAdmin, true
	case UnreachAddressUnreachable:
		return measure.LhrSourceUnreachAddr, true
	case UnreachPortUnreachable:
		return measure.LhrSourceUnreachPort, true
	default:
		return 0, false
	}
}

func weirdForUnreachCode(kind DestUnreachKind) measure.WeirdType {
	switch kind {
	case UnreachFailedEgress:
		return measure.WeirdDestUnreachFailedEgress
	case UnreachRejectRoute:
		return measure.WeirdDestUnreachRejectRoute
	default:
		return measure.WeirdDestUnreachOther
	}
}

// follow-up staging: once a responsive target has been staged, all
// subsequently staged unresponsive targets are discarded.
type followUpStage struct {
	targets       []netip.Addr
	haveResponsive bool
}

func (s *followUpStage) stageResponsive(addrs ...netip.Addr) {
	if !s.haveResponsive {
		s.haveResponsive = true
		s.targets = nil
	}
	s.targets = append(s.targets, addrs...)
}

func (s *followUpStage) stageUnresponsive(addrs ...netip.Addr) {
	if s.haveResponsive {
		return
	}
	s.targets = append(s.targets, addrs...)
}

// InterpretEcho maps a batched echo probe response into measurement
// updates and an optional follow-up traceroute.
func InterpretEcho(resp EchoProbeResponse) (*Interpretation, error) {
	interp := newInterpretation()
	stage := &followUpStage{}
	seen := splitIndexTracker(resp)

	for _, split := range resp.Splits {
		if seen != nil && split.NetIndex >= 0 && uint(split.NetIndex) < seen.Len() {
			if seen.Test(uint(split.NetIndex)) {
				interp.DuplicateSplits++
				continue
			}
			seen.Set(uint(split.NetIndex))
		}
		for _, r := range split.Responses {
			if err := applyResponseKey(interp.Updates, r, stage); err != nil {
				return nil, err
			}
		}
	}

	if len(stage.targets) > 0 {
		interp.FollowUp = &EchoFollowUp{Targets: stage.targets}
	}
	return interp, nil
}

func applyResponseKey(updates *net64.Map[*measure.Tree], r Responses, stage *followUpStage) error {
	switch key := r.Key.(type) {
	case DestinationUnreachable:
		if src, ok := lhrSourceForUnreach(key.Kind); ok {
			for _, target := range r.IntendedTargets {
				tree, err := treeFor(updates, target)
				if err != nil {
					return err
				}
				tree.AddLhrNoSum(key.From, []measure.LhrSource{src}, 1)
				tree.ResponsiveCount++
			}
			return nil
		}
		weird := weirdForUnreachCode(key.Kind)
		for _, target := range r.IntendedTargets {
			tree, err := treeFor(updates, target)
			if err != nil {
				return err
			}
			tree.AddWeirdNoSum(weird, 1)
		}

	case EchoReply:
		stage.stageResponsive(r.IntendedTargets...)
		for _, target := range r.IntendedTargets {
			tree, err := treeFor(updates, target)
			if err != nil {
				return err
			}
			tree.ResponsiveCount++
			if key.DifferentFrom != nil {
				// Open question (a): both effects are preserved — the
				// target counts as responsive AND the source mismatch
				// is recorded as weirdness.
				tree.AddWeirdNoSum(measure.WeirdDifferentEchoReplySource, 1)
			}
		}

	case NoResponse:
		stage.stageUnresponsive(r.IntendedTargets...)
		for _, target := range r.IntendedTargets {
			tree, err := treeFor(updates, target)
			if err != nil {
				return err
			}
			tree.UnresponsiveCount++
		}

	case TimeExceeded:
		for _, target := range r.IntendedTargets {
			tree, err := treeFor(updates, target)
			if err != nil {
				return err
			}
			tree.AddWeirdNoSum(measure.WeirdTtlExceededForEcho, 1)
		}

	case OtherICMP:
		for _, target := range r.IntendedTargets {
			tree, err := treeFor(updates, target)
			if err != nil {
				return err
			}
			tree.AddWeirdNoSum(measure.WeirdUnexpectedIcmpType, 1)
		}
	}
	return nil
}

// InterpretTrace maps a traceroute response into measurement updates.
func InterpretTrace(resp TraceResponse) (*Interpretation, error) {
	interp := newInterpretation()

	for _, result := range resp.Results {
		switch r := result.(type) {
		case LastResponsiveHop:
			tree, err := treeFor(interp.Updates, r.Target)
			if err != nil {
				return nil, err
			}
			switch rt := r.ResponseType.(type) {
			case TimeExceeded:
				tree.AddLhrNoSum(r.LastHop, []measure.LhrSource{measure.LhrSourceTrace}, 1)
				tree.ResponsiveCount++

			case DestinationUnreachable:
				du := DestinationUnreachable{Kind: rt.Kind, From: r.LastHop}
				if src, ok := lhrSourceForUnreach(du.Kind); ok {
					tree.AddLhrNoSum(du.From, []measure.LhrSource{src}, 1)
					tree.ResponsiveCount++
				} else {
					tree.AddWeirdNoSum(weirdForUnreachCode(du.Kind), 1)
				}

			case EchoReply:
				if r.LastHop == r.Target {
					tree.AddWeirdNoSum(measure.WeirdEchoReplyInTrace, 1)
				} else {
					tree.AddWeirdNoSum(measure.WeirdDifferentEchoReplySource, 1)
				}
			}

		case NoResponseHop:
			tree, err := treeFor(interp.Updates, r.TargetAddr)
			if err != nil {
				return nil, err
			}
			tree.UnresponsiveCount++
		}
	}

	return interp, nil
}
