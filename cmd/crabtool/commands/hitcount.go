package commands

import (
	"context"
	"fmt"
	"io"
	"net/netip"

	"github.com/hexmap/aggregator/internal/interpret"
	"github.com/hexmap/aggregator/internal/store/archive"
	"github.com/hexmap/aggregator/internal/store/pg"
)

// hitTally mirrors hit_count.rs's counters: zmap (echo) sent/received
// split by outcome, and yarrp (trace) sent split by whether the last
// responsive hop landed inside the net being inspected.
type hitTally struct {
	ZmapSent         int
	ZmapReceivedEcho int
	ZmapReceivedErr  int
	YarrpSent        int
	YarrpMissed      int
	YarrpInPrefix    int
	undecodable      int
}

// HitCount aggregates archived echo/trace responses under the net named
// by args[0] (grounded on hit_count.rs).
func HitCount(ctx context.Context, args []string, pool *pg.Pool, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: crabtool hitcount <net>")
	}
	net, err := netip.ParsePrefix(args[0])
	if err != nil {
		return fmt.Errorf("hitcount: parse %q: %w", args[0], err)
	}

	bodies, err := archive.New(pool.ArchiveRepo()).LoadUnder(ctx, net)
	if err != nil {
		return fmt.Errorf("hitcount: load archive: %w", err)
	}

	var tally hitTally
	for _, body := range bodies {
		tallyOne(&tally, body, net)
	}

	fmt.Fprintf(w, "archived responses under %s: %d\n", net, len(bodies))
	fmt.Fprintf(w, "zmap: sent=%d received_echo=%d received_err=%d\n",
		tally.ZmapSent, tally.ZmapReceivedEcho, tally.ZmapReceivedErr)
	fmt.Fprintf(w, "yarrp: sent=%d missed=%d in_prefix=%d\n",
		tally.YarrpSent, tally.YarrpMissed, tally.YarrpInPrefix)
	if tally.undecodable > 0 {
		fmt.Fprintf(w, "undecodable bodies skipped: %d\n", tally.undecodable)
	}
	return nil
}

// tallyOne decodes one archived body as whichever wire shape it
// actually is. The two JSON shapes don't overlap on required fields, so
// an echo decode of a trace body (or vice versa) succeeds but leaves
// TargetNet zero / Results empty; that's the discriminator.
func tallyOne(tally *hitTally, body []byte, net netip.Prefix) {
	var echo interpret.EchoProbeResponse
	if err := echo.UnmarshalJSON(body); err == nil && echo.TargetNet.IsValid() {
		tallyEcho(tally, echo)
		return
	}

	var trace interpret.TraceResponse
	if err := trace.UnmarshalJSON(body); err == nil && len(trace.Results) > 0 {
		tallyTrace(tally, trace, net)
		return
	}

	tally.undecodable++
}

func tallyEcho(tally *hitTally, resp interpret.EchoProbeResponse) {
	for _, split := range resp.Splits {
		for _, r := range split.Responses {
			tally.ZmapSent += len(r.IntendedTargets)
			switch r.Key.(type) {
			case interpret.EchoReply:
				tally.ZmapReceivedEcho += len(r.IntendedTargets)
			case interpret.DestinationUnreachable, interpret.TimeExceeded:
				tally.ZmapReceivedErr += len(r.IntendedTargets)
			}
		}
	}
}

func tallyTrace(tally *hitTally, resp interpret.TraceResponse, net netip.Prefix) {
	for _, result := range resp.Results {
		tally.YarrpSent++
		switch r := result.(type) {
		case interpret.LastResponsiveHop:
			if net.Contains(r.LastHop) {
				tally.YarrpInPrefix++
			}
		case interpret.NoResponseHop:
			tally.YarrpMissed++
		}
	}
}
