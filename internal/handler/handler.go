// Package handler implements the probe handler (spec §4.J): the single
// per-connection pipeline that turns one inbound response into
// persisted measurement/tree state and, depending on what the
// interpretation produced, either a follow-up trace request or a fresh
// split decision.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/apperr"
	"github.com/hexmap/aggregator/internal/blocklist"
	"github.com/hexmap/aggregator/internal/confidence"
	"github.com/hexmap/aggregator/internal/interpret"
	"github.com/hexmap/aggregator/internal/obs"
	"github.com/hexmap/aggregator/internal/queuemsg"
	"github.com/hexmap/aggregator/internal/recommend"
	"github.com/hexmap/aggregator/internal/store/analysisstore"
	"github.com/hexmap/aggregator/internal/store/archive"
	"github.com/hexmap/aggregator/internal/store/measurestore"
	"github.com/hexmap/aggregator/internal/store/treestore"
	"github.com/hexmap/aggregator/internal/subnet"
)

// TxRepos bundles the repositories a handler needs inside one commit. A
// concrete *pg.Tx satisfies this by exposing the matching accessors.
type TxRepos interface {
	TreeRepo() treestore.Repository
	MeasureRepo() measurestore.Repository
	AnalysisRepo() analysisstore.Repository
	ArchiveRepo() archive.Repository
}

// TxRunner runs fn inside one transaction — spec §4.H: "all mutations
// run inside a single transaction per response."
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepos) error) error
}

// Publisher emits outbound messages; component L owns the actual broker
// connection.
type Publisher interface {
	PublishTrace(ctx context.Context, req queuemsg.TraceRequest) error
	PublishEcho(ctx context.Context, req queuemsg.EchoProbeRequest) error
}

// followUp is staged inside the transaction and only published once the
// commit has succeeded, per "durable commit must precede the
// transport-layer ack."
type followUp struct {
	req              queuemsg.TraceRequest
	storedConfidence uint8
}

// Handler is the probe-response pipeline. One Handler serializes all
// work on a single DB connection, per §5 ("the response-handling task is
// single-threaded per DB connection").
type Handler struct {
	db        TxRunner
	blocklist blocklist.Blocklist
	pub       Publisher
	log       *zap.Logger
	metrics   *obs.Metrics
	rand      func() float64
}

// New constructs a Handler. bl may be nil to disable the split-time
// blocklist check.
func New(db TxRunner, bl blocklist.Blocklist, pub Publisher, log *zap.Logger, metrics *obs.Metrics, rand func() float64) *Handler {
	if rand == nil {
		rand = mathRandFloat64
	}
	return &Handler{db: db, blocklist: bl, pub: pub, log: log, metrics: metrics, rand: rand}
}

// HandleEcho runs the full pipeline for an inbound EchoProbeResponse.
func (h *Handler) HandleEcho(ctx context.Context, resp interpret.EchoProbeResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return &apperr.Permanent{Err: fmt.Errorf("handler: marshal echo response: %w", err)}
	}

	interpretation, err := interpret.InterpretEcho(resp)
	if err != nil {
		return &apperr.Permanent{Err: fmt.Errorf("handler: interpret echo: %w", err)}
	}
	if interpretation.DuplicateSplits > 0 {
		h.log.Warn("ignored duplicate split indices in echo response",
			zap.String("net", resp.TargetNet.String()), zap.Int("count", interpretation.DuplicateSplits))
		if h.metrics != nil {
			h.metrics.DuplicateSplitsTotal.Add(float64(interpretation.DuplicateSplits))
		}
	}

	var pending *followUp

	err = h.db.WithTx(ctx, func(ctx context.Context, tx TxRepos) error {
		node, err := tx.TreeRepo().Get(ctx, resp.TargetNet)
		if err != nil {
			return &apperr.Permanent{Err: fmt.Errorf("%w: %s", apperr.ErrNotInPrefixTree, resp.TargetNet)}
		}

		h.archiveBestEffort(ctx, tx, resp.TargetNet, raw)

		if err := measurestore.New(tx.MeasureRepo()).MergeDeltas(ctx, interpretation.Updates); err != nil {
			return &apperr.Transient{Err: err}
		}

		if interpretation.FollowUp != nil {
			token := newFollowUpToken()
			if err := analysisstore.New(tx.AnalysisRepo()).AttachFollowUp(ctx, resp.TargetNet, token); err != nil {
				return &apperr.Transient{Err: err}
			}
			pending = &followUp{
				req:              queuemsg.TraceRequest{ID: token, Targets: interpretation.FollowUp.Targets, WereResponsive: true},
				storedConfidence: node.Confidence,
			}
			return nil
		}

		return h.decide(ctx, tx, resp.TargetNet)
	})
	if err != nil {
		return err
	}

	if pending != nil {
		return h.emitFollowUp(ctx, *pending)
	}
	return nil
}

// HandleTrace runs the pipeline for an inbound TraceResponse.
func (h *Handler) HandleTrace(ctx context.Context, resp interpret.TraceResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return &apperr.Permanent{Err: fmt.Errorf("handler: marshal trace response: %w", err)}
	}

	interpretation, err := interpret.InterpretTrace(resp)
	if err != nil {
		return &apperr.Permanent{Err: fmt.Errorf("handler: interpret trace: %w", err)}
	}

	return h.db.WithTx(ctx, func(ctx context.Context, tx TxRepos) error {
		treeNet, err := analysisstore.New(tx.AnalysisRepo()).ResolveFollowUp(ctx, resp.ID)
		if err != nil {
			return &apperr.Permanent{Err: fmt.Errorf("%w: token %s", apperr.ErrNoActiveAnalysis, resp.ID)}
		}

		h.archiveBestEffort(ctx, tx, treeNet, raw)

		if err := measurestore.New(tx.MeasureRepo()).MergeDeltas(ctx, interpretation.Updates); err != nil {
			return &apperr.Transient{Err: err}
		}

		return h.decide(ctx, tx, treeNet)
	})
}

// archiveBestEffort never fails the surrounding transaction; a write
// failure is logged and counted only (§7 "warning-only").
func (h *Handler) archiveBestEffort(ctx context.Context, tx TxRepos, net netip.Prefix, raw []byte) {
	if err := tx.ArchiveRepo().Write(ctx, net, raw); err != nil {
		h.log.Warn("archive write failed", zap.String("net", net.String()), zap.Error(err))
		if h.metrics != nil {
			h.metrics.ArchiveWriteFailures.Inc()
		}
	}
}

// decide runs the split/keep decision (components E/F/G) for net and
// persists the outcome via treestore/analysisstore (H/I).
func (h *Handler) decide(ctx context.Context, tx TxRepos, net netip.Prefix) error {
	subnets, err := subnet.Build(ctx, net, measurestore.New(tx.MeasureRepo()), h.log)
	if err != nil {
		return &apperr.Transient{Err: fmt.Errorf("handler: build subnets for %s: %w", net, err)}
	}

	rec := recommend.Recommend(subnets)
	conf := confidence.Rate(rec, net.Bits())
	priority := rec.Priority()

	tree := treestore.New(tx.TreeRepo(), h.blocklist)
	hash := subnets.Left.LhrSetHash()
	if err := tree.Apply(ctx, net, rec, conf, hash); err != nil {
		return &apperr.Transient{Err: fmt.Errorf("handler: apply recommendation for %s: %w", net, err)}
	}

	shouldSplit, determined := recommend.ShouldSplit(rec)
	var shouldSplitPtr *bool
	if determined {
		shouldSplitPtr = &shouldSplit
	}

	if h.metrics != nil {
		h.metrics.RecommendationsByClass.WithLabelValues(priorityClassLabel(priority.Class)).Inc()
	}

	return analysisstore.New(tx.AnalysisRepo()).Complete(ctx, net, analysisstore.Result{
		Class:       priority.Class,
		Evidence:    priority.SupportingObservations,
		ShouldSplit: shouldSplitPtr,
		AlgoVersion: recommend.AlgoVersion,
	})
}

// emitFollowUp applies the producer-side thinning policy (§4.J) before
// publishing, using the node's confidence as it stood before this
// response: >100 drops 2/3, >60 drops 1/5, otherwise samples 1/4.
func (h *Handler) emitFollowUp(ctx context.Context, f followUp) error {
	drop := false
	r := h.rand()
	switch {
	case f.storedConfidence > 100:
		drop = r < 2.0/3.0
	case f.storedConfidence > 60:
		drop = r < 1.0/5.0
	default:
		drop = r >= 1.0/4.0
	}

	if drop {
		if h.metrics != nil {
			h.metrics.FollowUpDropped.WithLabelValues(thinningBand(f.storedConfidence)).Inc()
		}
		return nil
	}

	if err := h.pub.PublishTrace(ctx, f.req); err != nil {
		return &apperr.Transient{Err: err}
	}
	if h.metrics != nil {
		h.metrics.FollowUpEmitted.Inc()
	}
	return nil
}

func thinningBand(confidence uint8) string {
	switch {
	case confidence > 100:
		return "high"
	case confidence > 60:
		return "medium"
	default:
		return "low"
	}
}

func priorityClassLabel(c recommend.PriorityClass) string {
	names := [...]string{
		"high_fresh", "high_overlapping", "high_disjoint",
		"medium_same_multi", "medium_same_ratio", "medium_same_many",
		"medium_same_single", "medium_multi_weird", "low_weird", "low_unknown",
	}
	if int(c) < 0 || int(c) >= len(names) {
		return "unknown"
	}
	return names[c]
}

func newFollowUpToken() string {
	return "tracerq_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func mathRandFloat64() float64 { return rand.Float64() }
