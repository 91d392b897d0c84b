package interpret

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoProbeResponseWireRoundTrip(t *testing.T) {
	from := netip.MustParseAddr("2001:db8::1")
	other := netip.MustParseAddr("2001:db8::2")
	target := netip.MustParseAddr("2001:db8::beef")

	resp := EchoProbeResponse{
		TargetNet:       netip.MustParsePrefix("2001:db8::/64"),
		SubnetPrefixLen: 65,
		SentTTL:         64,
		Splits: []SplitResult{
			{
				NetIndex: 0,
				Responses: []Responses{
					{Key: DestinationUnreachable{Kind: UnreachPortUnreachable, From: from}, IntendedTargets: []netip.Addr{target}},
					{Key: EchoReply{DifferentFrom: &other}, IntendedTargets: []netip.Addr{target}},
					{Key: NoResponse{}, IntendedTargets: []netip.Addr{target}},
					{Key: TimeExceeded{}, IntendedTargets: []netip.Addr{target}},
					{Key: OtherICMP{}, IntendedTargets: []netip.Addr{target}},
				},
			},
		},
	}

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var got EchoProbeResponse
	require.NoError(t, json.Unmarshal(body, &got))

	assert.Equal(t, resp.TargetNet, got.TargetNet)
	assert.Equal(t, resp.SubnetPrefixLen, got.SubnetPrefixLen)
	require.Len(t, got.Splits, 1)
	require.Len(t, got.Splits[0].Responses, 5)

	assert.Equal(t, DestinationUnreachable{Kind: UnreachPortUnreachable, From: from}, got.Splits[0].Responses[0].Key)
	gotReply, ok := got.Splits[0].Responses[1].Key.(EchoReply)
	require.True(t, ok)
	require.NotNil(t, gotReply.DifferentFrom)
	assert.Equal(t, other, *gotReply.DifferentFrom)
	assert.Equal(t, NoResponse{}, got.Splits[0].Responses[2].Key)
	assert.Equal(t, TimeExceeded{}, got.Splits[0].Responses[3].Key)
	assert.Equal(t, OtherICMP{}, got.Splits[0].Responses[4].Key)
}

func TestTraceResponseWireRoundTrip(t *testing.T) {
	target := netip.MustParseAddr("2001:db8::beef")
	lastHop := netip.MustParseAddr("2001:db8::1")
	ttl := uint8(5)

	resp := TraceResponse{
		ID: "tracerq_abc123",
		Results: []TraceResult{
			LastResponsiveHop{Target: target, LastHop: lastHop, LastHopTTL: 4, TargetTTL: &ttl, ResponseType: TimeExceeded{}},
			NoResponseHop{TargetAddr: target},
		},
	}

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var got TraceResponse
	require.NoError(t, json.Unmarshal(body, &got))

	assert.Equal(t, resp.ID, got.ID)
	require.Len(t, got.Results, 2)

	hop, ok := got.Results[0].(LastResponsiveHop)
	require.True(t, ok)
	assert.Equal(t, target, hop.Target)
	assert.Equal(t, lastHop, hop.LastHop)
	require.NotNil(t, hop.TargetTTL)
	assert.Equal(t, ttl, *hop.TargetTTL)
	assert.Equal(t, TimeExceeded{}, hop.ResponseType)

	noResp, ok := got.Results[1].(NoResponseHop)
	require.True(t, ok)
	assert.Equal(t, target, noResp.TargetAddr)
}

func TestUnmarshalRejectsUnknownResponseKeyType(t *testing.T) {
	var got EchoProbeResponse
	raw := []byte(`{"target_net":"2001:db8::/64","splits":[{"net_index":0,"responses":[{"key":{"type":"bogus"},"intended_targets":[]}]}]}`)
	err := json.Unmarshal(raw, &got)
	assert.Error(t, err)
}
