// Package queuemsg defines the wire messages exchanged with the
// external probers over the transport bridge (§6).
package queuemsg

import "net/netip"

// EchoProbeRequest is published on routing key "echo".
type EchoProbeRequest struct {
	TargetNet netip.Prefix `json:"target_net"`
}

// TraceRequest is published on routing key "trace".
type TraceRequest struct {
	ID             string       `json:"id"` // "tracerq_" + opaque token
	Targets        []netip.Addr `json:"targets"`
	WereResponsive bool         `json:"were_responsive"`
}

// RoutingKey reports the exchange routing key for a queuemsg type.
const (
	RoutingKeyEcho  = "echo"
	RoutingKeyTrace = "trace"
)
