// Package interpret turns a raw probe response into measurement-forest
// updates and, for echoes, a follow-up traceroute intent.
package interpret

import "net/netip"

// DestUnreachKind enumerates the ICMP destination-unreachable codes the
// core distinguishes. The first four attribute a last-hop router; the
// rest are recorded as weirdness only.
type DestUnreachKind int

const (
	UnreachNoRoute DestUnreachKind = iota
	UnreachAdminProhibited
	UnreachAddressUnreachable
	UnreachPortUnreachable
	UnreachFailedEgress // ICMP code 5
	UnreachRejectRoute  // ICMP code 6
	UnreachOtherCode
)

// ResponseKey is the tagged union of ICMP outcomes a single probed
// address can produce. Concrete variants are DestinationUnreachable,
// EchoReply, NoResponse, TimeExceeded, and OtherICMP.
type ResponseKey interface {
	isResponseKey()
}

// DestinationUnreachable is an ICMPv6 destination-unreachable reply.
type DestinationUnreachable struct {
	Kind DestUnreachKind
	From netip.Addr
}

func (DestinationUnreachable) isResponseKey() {}

// EchoReply is a plain echo reply. DifferentFrom is set when the reply's
// source address differs from the probed target.
type EchoReply struct {
	DifferentFrom *netip.Addr
}

func (EchoReply) isResponseKey() {}

// NoResponse marks a probe that timed out.
type NoResponse struct{}

func (NoResponse) isResponseKey() {}

// TimeExceeded is an ICMPv6 time-exceeded reply to an echo probe.
type TimeExceeded struct{}

func (TimeExceeded) isResponseKey() {}

// OtherICMP is any ICMP type the core does not otherwise classify.
type OtherICMP struct{}

func (OtherICMP) isResponseKey() {}

// Responses is one outcome bucket within a split, naming the targets it
// applies to.
type Responses struct {
	Key             ResponseKey
	IntendedTargets []netip.Addr
}

// SplitResult is one subnet block of the echo probe's split, identified
// by NetIndex.
type SplitResult struct {
	NetIndex  int
	Responses []Responses
}

// EchoProbeResponse is the inbound batched-echo message (§6).
type EchoProbeResponse struct {
	TargetNet       netip.Prefix
	SubnetPrefixLen uint8
	SentTTL         uint8
	Splits          []SplitResult
}

// EchoFollowUp carries the addresses selected for a follow-up traceroute.
type EchoFollowUp struct {
	Targets []netip.Addr
}

// TraceResult is the tagged union of a single traced target's outcome:
// LastResponsiveHop or NoResponseHop.
type TraceResult interface {
	isTraceResult()
}

// LastResponsiveHop is the last hop that answered along the path to
// Target.
type LastResponsiveHop struct {
	Target       netip.Addr
	LastHop      netip.Addr
	LastHopTTL   uint8
	TargetTTL    *uint8
	ResponseType ResponseKey
}

func (LastResponsiveHop) isTraceResult() {}

// NoResponseHop marks a traced target that produced no hop at all.
type NoResponseHop struct {
	TargetAddr netip.Addr
}

func (NoResponseHop) isTraceResult() {}

// TraceResponse is the inbound traceroute message (§6).
type TraceResponse struct {
	ID      string
	Results []TraceResult
}
