package interpret

import (
	"net/netip"
	"testing"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretEchoRegistersLhrAndBumpsResponsive(t *testing.T) {
	from := netip.MustParseAddr("2001:db8::1")
	target := netip.MustParseAddr("2001:db8::beef")

	resp := EchoProbeResponse{
		Splits: []SplitResult{{
			NetIndex: 0,
			Responses: []Responses{{
				Key:             DestinationUnreachable{Kind: UnreachPortUnreachable, From: from},
				IntendedTargets: []netip.Addr{target},
			}},
		}},
	}

	interp, err := InterpretEcho(resp)
	require.NoError(t, err)

	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.ResponsiveCount)
	assert.EqualValues(t, 1, tree.LastHopRouters[from].HitCount)
	_, hasSource := tree.LastHopRouters[from].Sources[measure.LhrSourceUnreachPort]
	assert.True(t, hasSource)
}

func TestInterpretEchoDifferentSourcePreservesBothEffects(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")
	other := netip.MustParseAddr("2001:db8::dead")

	resp := EchoProbeResponse{
		Splits: []SplitResult{{
			Responses: []Responses{{
				Key:             EchoReply{DifferentFrom: &other},
				IntendedTargets: []netip.Addr{target},
			}},
		}},
	}

	interp, err := InterpretEcho(resp)
	require.NoError(t, err)

	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.ResponsiveCount, "target still counts as responsive")
	assert.EqualValues(t, 1, tree.Weirdness[measure.WeirdDifferentEchoReplySource].HitCount, "and weirdness is recorded")
}

func TestFollowUpPrefersResponsiveOverUnresponsive(t *testing.T) {
	unresponsive := netip.MustParseAddr("2001:db8::1")
	responsive := netip.MustParseAddr("2001:db8::2")
	lateUnresponsive := netip.MustParseAddr("2001:db8::3")

	resp := EchoProbeResponse{
		Splits: []SplitResult{{
			Responses: []Responses{
				{Key: NoResponse{}, IntendedTargets: []netip.Addr{unresponsive}},
				{Key: EchoReply{}, IntendedTargets: []netip.Addr{responsive}},
				{Key: NoResponse{}, IntendedTargets: []netip.Addr{lateUnresponsive}},
			},
		}},
	}

	interp, err := InterpretEcho(resp)
	require.NoError(t, err)
	require.NotNil(t, interp.FollowUp)
	assert.Equal(t, []netip.Addr{responsive}, interp.FollowUp.Targets)
}

func TestFollowUpEmptyWhenNoTargetsStaged(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::1")
	resp := EchoProbeResponse{
		Splits: []SplitResult{{
			Responses: []Responses{{Key: OtherICMP{}, IntendedTargets: []netip.Addr{target}}},
		}},
	}

	interp, err := InterpretEcho(resp)
	require.NoError(t, err)
	assert.Nil(t, interp.FollowUp)
}

func TestInterpretTraceTimeExceededYieldsTraceLhr(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")
	hop := netip.MustParseAddr("2001:db8::1")

	resp := TraceResponse{
		ID: "tracerq_abc",
		Results: []TraceResult{
			LastResponsiveHop{Target: target, LastHop: hop, ResponseType: TimeExceeded{}},
		},
	}

	interp, err := InterpretTrace(resp)
	require.NoError(t, err)

	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.ResponsiveCount)
	_, hasTrace := tree.LastHopRouters[hop].Sources[measure.LhrSourceTrace]
	assert.True(t, hasTrace)
}

func TestInterpretTraceEchoReplyAtTargetIsInTrace(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")

	resp := TraceResponse{
		Results: []TraceResult{
			LastResponsiveHop{Target: target, LastHop: target, ResponseType: EchoReply{}},
		},
	}

	interp, err := InterpretTrace(resp)
	require.NoError(t, err)
	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.Weirdness[measure.WeirdEchoReplyInTrace].HitCount)
}

func TestInterpretTraceNoResponseIncrementsUnresponsive(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")
	resp := TraceResponse{Results: []TraceResult{NoResponseHop{TargetAddr: target}}}

	interp, err := InterpretTrace(resp)
	require.NoError(t, err)
	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.UnresponsiveCount)
}

func TestInterpretEchoIgnoresRepeatedSplitIndex(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")
	resp := EchoProbeResponse{
		TargetNet:       netip.MustParsePrefix("2001:db8::/64"),
		SubnetPrefixLen: 66, // depth 2: four split indices, 0-3
		Splits: []SplitResult{
			{NetIndex: 0, Responses: []Responses{{Key: NoResponse{}, IntendedTargets: []netip.Addr{target}}}},
			{NetIndex: 0, Responses: []Responses{{Key: EchoReply{}, IntendedTargets: []netip.Addr{target}}}},
		},
	}

	interp, err := InterpretEcho(resp)
	require.NoError(t, err)
	assert.Equal(t, 1, interp.DuplicateSplits)

	tree, ok, err := interp.Updates.GetAddr(target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, tree.UnresponsiveCount, "only the first occurrence of index 0 should apply")
}
