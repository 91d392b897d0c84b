package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/store/analysisstore"
	"github.com/hexmap/aggregator/internal/store/measurestore"
	"github.com/hexmap/aggregator/internal/store/pg"
	"github.com/hexmap/aggregator/internal/subnet"
)

// Inspect prints a PrefixTree node, its measurement tree, its latest
// split analysis, and the two candidate children's split view, for the
// net named by args[0] (grounded on prefix_inspect.rs, minus its
// terminal UI: this is a one-shot print, not an interactive viewport).
func Inspect(ctx context.Context, args []string, pool *pg.Pool, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: crabtool inspect <net>")
	}
	net, err := netip.ParsePrefix(args[0])
	if err != nil {
		return fmt.Errorf("inspect: parse %q: %w", args[0], err)
	}

	node, err := pool.TreeRepo().Get(ctx, net)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("inspect: load tree node: %w", err)
	}
	if node == nil {
		fmt.Fprintf(w, "no prefix_tree row for %s\n", net)
	} else {
		fmt.Fprintf(w, "tree: %s status=%s class=%d confidence=%d%% asn=%d lhr_hash=%s\n",
			node.Net, node.MergeStatus, node.PriorityClass, node.Confidence, node.ASN, node.LhrSetHash)
	}

	measures := measurestore.New(pool.MeasureRepo())
	tree, err := measures.Get(ctx, net)
	if err != nil {
		return fmt.Errorf("inspect: load measurement tree: %w", err)
	}
	if tree == nil {
		fmt.Fprintln(w, "no measurement_tree row for this exact net")
	} else {
		printMeasurement(w, tree)
	}

	analyses := analysisstore.New(pool.AnalysisRepo())
	latest, err := analyses.Latest(ctx, net)
	if err != nil {
		return fmt.Errorf("inspect: load latest analysis: %w", err)
	}
	printAnalysis(w, latest)

	if net.Bits() < 128 {
		split, err := subnet.Build(ctx, net, measures, nil)
		if err != nil {
			return fmt.Errorf("inspect: build split view: %w", err)
		}
		fmt.Fprintln(w, "\nleft child:")
		printMeasurement(w, split.Left)
		fmt.Fprintln(w, "\nright child:")
		printMeasurement(w, split.Right)
	}

	return nil
}

func printMeasurement(w io.Writer, t *measure.Tree) {
	probed := int64(t.ResponsiveCount) + int64(t.UnresponsiveCount)
	if probed == 0 {
		fmt.Fprintf(w, " %s: no probes recorded\n", t.TargetNet)
		return
	}
	percent := int64(t.ResponsiveCount) * 100 / probed
	fmt.Fprintf(w, " %s: %d probes (%d responsive, %d unresponsive) => %d%% responsive\n",
		t.TargetNet, probed, t.ResponsiveCount, t.UnresponsiveCount, percent)

	fmt.Fprintln(w, "  last-hop routers:")
	for _, addr := range sortedAddrs(t.LastHopRouters) {
		rec := t.LastHopRouters[addr]
		var pct int64
		if t.ResponsiveCount > 0 {
			pct = int64(rec.HitCount) * 100 / int64(t.ResponsiveCount)
		}
		fmt.Fprintf(w, "   %s - %d hits (%d%%)\n", addr, rec.HitCount, pct)
	}
	fmt.Fprintln(w, "  weirdness:")
	for _, typ := range sortedWeirdTypes(t.Weirdness) {
		fmt.Fprintf(w, "   %v - %d hits\n", typ, t.Weirdness[typ].HitCount)
	}
}

func printAnalysis(w io.Writer, a *analysisstore.Analysis) {
	if a == nil {
		fmt.Fprintln(w, "no split_analysis row for this net")
		return
	}
	fmt.Fprintf(w, "latest analysis %s: created=%s completed=%v pending_follow_up=%q\n",
		a.ID, a.CreatedAt, a.CompletedAt != nil, a.PendingFollowUp)
	if a.Result != nil {
		shouldSplit := "unknown"
		if a.Result.ShouldSplit != nil {
			shouldSplit = fmt.Sprintf("%v", *a.Result.ShouldSplit)
		}
		fmt.Fprintf(w, " result: class=%d evidence=%d should_split=%s algo_version=%d\n",
			a.Result.Class, a.Result.Evidence, shouldSplit, a.Result.AlgoVersion)
	}
}

func sortedAddrs(m map[netip.Addr]*measure.LhrRecord) []netip.Addr {
	out := make([]netip.Addr, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedWeirdTypes(m map[measure.WeirdType]*measure.WeirdRecord) []measure.WeirdType {
	out := make([]measure.WeirdType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
