// Package schedule implements the analysis-timer scheduler (spec §4.K):
// a per-tick weighted lottery across priority classes, gated by a
// per-ASN cap, that kicks off fresh analyses and emits EchoProbeRequests
// for the prefixes it selects.
package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/obs"
	"github.com/hexmap/aggregator/internal/queuemsg"
	"github.com/hexmap/aggregator/internal/recommend"
)

// classOrder fixes the iteration order used to resolve cumulative-weight
// ties during the lottery draw; it must match the table in spec §4.K.
var classOrder = []recommend.PriorityClass{
	recommend.HighFresh,
	recommend.HighOverlapping,
	recommend.HighDisjoint,
	recommend.MediumSameMulti,
	recommend.MediumSameSingle,
	recommend.MediumMultiWeird,
	recommend.LowWeird,
	recommend.LowUnknown,
}

// ClassWeights are the fixed lottery ratios. A class absent from this
// map (MediumSameRatio, MediumSameMany) is never counted or sampled, so a
// net that recommend.Recommend classified into one of them receives no
// scheduler slot.
var ClassWeights = map[recommend.PriorityClass]int{
	recommend.HighFresh:        25,
	recommend.HighOverlapping:  13,
	recommend.HighDisjoint:     12,
	recommend.MediumSameMulti:  23,
	recommend.MediumSameSingle: 13,
	recommend.MediumMultiWeird: 10,
	recommend.LowWeird:         2,
	recommend.LowUnknown:       2,
}

// StaleAnalysisAge is how old an open analysis must be before its
// net is eligible for scheduling again, even with no completed result.
const StaleAnalysisAge = 48 * time.Hour

// Candidate is one eligible net the repository surfaced for scheduling.
type Candidate struct {
	Net netip.Prefix
	ASN int64
}

// Repository is the persistence contract the scheduler drives.
type Repository interface {
	// CountEligible reports how many nets of class are Leaf/UnsplitRoot
	// with no open analysis younger than cutoff.
	CountEligible(ctx context.Context, class recommend.PriorityClass, cutoff time.Time) (int, error)
	// SampleEligible returns up to n such nets, in no particular order.
	SampleEligible(ctx context.Context, class recommend.PriorityClass, cutoff time.Time, n int) ([]Candidate, error)
}

// AnalysisStarter opens analyses in bulk; analysisstore.Store satisfies
// this directly.
type AnalysisStarter interface {
	BeginBulk(ctx context.Context, nets []netip.Prefix) error
}

// Publisher emits the fresh echo requests the scheduler allocates.
type Publisher interface {
	PublishEcho(ctx context.Context, req queuemsg.EchoProbeRequest) error
}

// Scheduler runs one analysis-timer tick at a time; Run drives it on a
// fixed interval until ctx is canceled.
type Scheduler struct {
	repo     Repository
	analysis AnalysisStarter
	pub      Publisher
	log      *zap.Logger
	metrics  *obs.Metrics

	budget   int
	maxPerAS int
	randIntn func(n int) int
}

// New builds a Scheduler. budget is analysis_timer_prefix_budget,
// maxPerAS is analysis_timer_max_prefix_per_as.
func New(repo Repository, analysis AnalysisStarter, pub Publisher, log *zap.Logger, metrics *obs.Metrics, budget, maxPerAS int) *Scheduler {
	return &Scheduler{
		repo:     repo,
		analysis: analysis,
		pub:      pub,
		log:      log,
		metrics:  metrics,
		budget:   budget,
		maxPerAS: maxPerAS,
		randIntn: rand.Intn,
	}
}

// Run ticks every interval until ctx is canceled, logging (not
// returning) per-tick errors so one bad tick doesn't kill the loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one allocation round: count eligible nets per class, run the
// weighted lottery, apply the per-AS cap, open analyses, and emit echo
// requests for whatever survives.
func (s *Scheduler) Tick(ctx context.Context) error {
	cutoff := timeNow().Add(-StaleAnalysisAge)

	available := make(map[recommend.PriorityClass]int, len(classOrder))
	for _, class := range classOrder {
		n, err := s.repo.CountEligible(ctx, class, cutoff)
		if err != nil {
			return fmt.Errorf("schedule: count eligible %v: %w", class, err)
		}
		available[class] = n
	}

	allocated := s.allocate(available)

	var candidates []Candidate
	for _, class := range classOrder {
		n := allocated[class]
		if n == 0 {
			continue
		}
		batch, err := s.repo.SampleEligible(ctx, class, cutoff, n)
		if err != nil {
			return fmt.Errorf("schedule: sample %v: %w", class, err)
		}
		candidates = append(candidates, batch...)
		if s.metrics != nil {
			s.metrics.SchedulerAllocated.WithLabelValues(classLabel(class)).Add(float64(len(batch)))
		}
	}

	kept := s.applyASCap(candidates)
	if len(kept) == 0 {
		return nil
	}

	nets := make([]netip.Prefix, len(kept))
	for i, c := range kept {
		nets[i] = c.Net
	}

	if err := s.analysis.BeginBulk(ctx, nets); err != nil {
		return fmt.Errorf("schedule: begin bulk analyses: %w", err)
	}

	for _, net := range nets {
		if err := s.pub.PublishEcho(ctx, queuemsg.EchoProbeRequest{TargetNet: net}); err != nil {
			s.log.Warn("publish echo request failed", zap.String("net", net.String()), zap.Error(err))
		}
	}
	return nil
}

// allocate runs the weighted-lottery draw described in spec §4.K:
// repeatedly draw r uniform in [1, Σ available class weights], pick the
// first class (in classOrder) whose cumulative weight reaches r,
// decrement its availability, and repeat until the budget is spent or
// every class is exhausted.
func (s *Scheduler) allocate(available map[recommend.PriorityClass]int) map[recommend.PriorityClass]int {
	allocated := make(map[recommend.PriorityClass]int, len(classOrder))
	remaining := s.budget

	for remaining > 0 {
		totalWeight := 0
		for _, class := range classOrder {
			if available[class] > 0 {
				totalWeight += ClassWeights[class]
			}
		}
		if totalWeight == 0 {
			break
		}

		r := s.randIntn(totalWeight) + 1
		cumulative := 0
		var chosen recommend.PriorityClass
		for _, class := range classOrder {
			if available[class] <= 0 {
				continue
			}
			cumulative += ClassWeights[class]
			if cumulative >= r {
				chosen = class
				break
			}
		}

		available[chosen]--
		allocated[chosen]++
		remaining--
	}

	return allocated
}

// applyASCap keeps at most maxPerAS candidates per ASN, counting
// suppressed prefixes and the number of ASNs that hit their cap.
func (s *Scheduler) applyASCap(candidates []Candidate) []Candidate {
	counts := make(map[int64]int)
	exhausted := make(map[int64]bool)
	kept := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		if s.maxPerAS > 0 && counts[c.ASN] >= s.maxPerAS {
			exhausted[c.ASN] = true
			if s.metrics != nil {
				s.metrics.SchedulerASCapSkipped.Inc()
			}
			continue
		}
		counts[c.ASN]++
		kept = append(kept, c)
	}

	if s.metrics != nil {
		s.metrics.SchedulerExhaustedAS.Set(float64(len(exhausted)))
	}
	return kept
}

func classLabel(c recommend.PriorityClass) string {
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

// timeNow is overridable in tests; production calls time.Now directly.
var timeNow = time.Now
