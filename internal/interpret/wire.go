package interpret

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Wire shapes (spec §6): ResponseKey and TraceResult are tagged unions
// on the wire, discriminated by a "type" field, since JSON has no native
// sum type.

type wireResponseKey struct {
	Type          string          `json:"type"`
	Kind          DestUnreachKind `json:"kind,omitempty"`
	From          netip.Addr      `json:"from,omitempty"`
	DifferentFrom *netip.Addr     `json:"different_from,omitempty"`
}

const (
	keyDestinationUnreachable = "destination_unreachable"
	keyEchoReply              = "echo_reply"
	keyNoResponse             = "no_response"
	keyTimeExceeded           = "time_exceeded"
	keyOtherICMP              = "other_icmp"
)

func marshalResponseKey(k ResponseKey) (wireResponseKey, error) {
	switch v := k.(type) {
	case DestinationUnreachable:
		return wireResponseKey{Type: keyDestinationUnreachable, Kind: v.Kind, From: v.From}, nil
	case EchoReply:
		return wireResponseKey{Type: keyEchoReply, DifferentFrom: v.DifferentFrom}, nil
	case NoResponse:
		return wireResponseKey{Type: keyNoResponse}, nil
	case TimeExceeded:
		return wireResponseKey{Type: keyTimeExceeded}, nil
	case OtherICMP:
		return wireResponseKey{Type: keyOtherICMP}, nil
	default:
		return wireResponseKey{}, fmt.Errorf("interpret: unknown ResponseKey %T", k)
	}
}

func (w wireResponseKey) toResponseKey() (ResponseKey, error) {
	switch w.Type {
	case keyDestinationUnreachable:
		return DestinationUnreachable{Kind: w.Kind, From: w.From}, nil
	case keyEchoReply:
		return EchoReply{DifferentFrom: w.DifferentFrom}, nil
	case keyNoResponse:
		return NoResponse{}, nil
	case keyTimeExceeded:
		return TimeExceeded{}, nil
	case keyOtherICMP:
		return OtherICMP{}, nil
	default:
		return nil, fmt.Errorf("interpret: unknown wire ResponseKey type %q", w.Type)
	}
}

type wireResponses struct {
	Key             wireResponseKey `json:"key"`
	IntendedTargets []netip.Addr    `json:"intended_targets"`
}

type wireSplitResult struct {
	NetIndex  int             `json:"net_index"`
	Responses []wireResponses `json:"responses"`
}

type wireEchoProbeResponse struct {
	TargetNet       netip.Prefix      `json:"target_net"`
	SubnetPrefixLen uint8             `json:"subnet_prefix_len"`
	SentTTL         uint8             `json:"sent_ttl"`
	Splits          []wireSplitResult `json:"splits"`
}

// MarshalJSON renders the wire shape named in spec §6.
func (r EchoProbeResponse) MarshalJSON() ([]byte, error) {
	w := wireEchoProbeResponse{
		TargetNet:       r.TargetNet,
		SubnetPrefixLen: r.SubnetPrefixLen,
		SentTTL:         r.SentTTL,
	}
	for _, split := range r.Splits {
		ws := wireSplitResult{NetIndex: split.NetIndex}
		for _, resp := range split.Responses {
			key, err := marshalResponseKey(resp.Key)
			if err != nil {
				return nil, err
			}
			ws.Responses = append(ws.Responses, wireResponses{Key: key, IntendedTargets: resp.IntendedTargets})
		}
		w.Splits = append(w.Splits, ws)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape named in spec §6.
func (r *EchoProbeResponse) UnmarshalJSON(data []byte) error {
	var w wireEchoProbeResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.TargetNet = w.TargetNet
	r.SubnetPrefixLen = w.SubnetPrefixLen
	r.SentTTL = w.SentTTL
	r.Splits = nil
	for _, ws := range w.Splits {
		split := SplitResult{NetIndex: ws.NetIndex}
		for _, wr := range ws.Responses {
			key, err := wr.Key.toResponseKey()
			if err != nil {
				return err
			}
			split.Responses = append(split.Responses, Responses{Key: key, IntendedTargets: wr.IntendedTargets})
		}
		r.Splits = append(r.Splits, split)
	}
	return nil
}

type wireTraceResult struct {
	Type         string          `json:"type"`
	Target       netip.Addr      `json:"target,omitempty"`
	LastHop      netip.Addr      `json:"last_hop,omitempty"`
	LastHopTTL   uint8           `json:"last_hop_ttl,omitempty"`
	TargetTTL    *uint8          `json:"target_ttl,omitempty"`
	ResponseType wireResponseKey `json:"response_type,omitempty"`
	TargetAddr   netip.Addr      `json:"target_addr,omitempty"`
}

const (
	traceLastResponsiveHop = "last_responsive_hop"
	traceNoResponseHop     = "no_response"
)

type wireTraceResponse struct {
	ID      string            `json:"id"`
	Results []wireTraceResult `json:"results"`
}

// MarshalJSON renders the wire shape named in spec §6.
func (r TraceResponse) MarshalJSON() ([]byte, error) {
	w := wireTraceResponse{ID: r.ID}
	for _, result := range r.Results {
		switch v := result.(type) {
		case LastResponsiveHop:
			key, err := marshalResponseKey(v.ResponseType)
			if err != nil {
				return nil, err
			}
			w.Results = append(w.Results, wireTraceResult{
				Type: traceLastResponsiveHop, Target: v.Target, LastHop: v.LastHop,
				LastHopTTL: v.LastHopTTL, TargetTTL: v.TargetTTL, ResponseType: key,
			})
		case NoResponseHop:
			w.Results = append(w.Results, wireTraceResult{Type: traceNoResponseHop, TargetAddr: v.TargetAddr})
		default:
			return nil, fmt.Errorf("interpret: unknown TraceResult %T", result)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape named in spec §6.
func (r *TraceResponse) UnmarshalJSON(data []byte) error {
	var w wireTraceResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Results = nil
	for _, wr := range w.Results {
		switch wr.Type {
		case traceLastResponsiveHop:
			key, err := wr.ResponseType.toResponseKey()
			if err != nil {
				return err
			}
			r.Results = append(r.Results, LastResponsiveHop{
				Target: wr.Target, LastHop: wr.LastHop, LastHopTTL: wr.LastHopTTL,
				TargetTTL: wr.TargetTTL, ResponseType: key,
			})
		case traceNoResponseHop:
			r.Results = append(r.Results, NoResponseHop{TargetAddr: wr.TargetAddr})
		default:
			return fmt.Errorf("interpret: unknown wire TraceResult type %q", wr.Type)
		}
	}
	return nil
}
