// Package analysisstore persists SplitAnalysis rows and pairs follow-up
// trace tokens with the node awaiting their result (spec §4.I).
package analysisstore

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/hexmap/aggregator/internal/recommend"
)

// Result is the completed SplitAnalysisResult.
type Result struct {
	Class       recommend.PriorityClass
	Evidence    int32
	ShouldSplit *bool
	AlgoVersion int32
}

// Analysis is a SplitAnalysis row.
type Analysis struct {
	ID              string
	TreeNet         netip.Prefix
	CreatedAt       time.Time
	CompletedAt     *time.Time
	PendingFollowUp string
	Result          *Result
}

// Repository is the persistence contract this package drives.
type Repository interface {
	// BeginBulk opens an Analysis row per net, skipping any net that
	// already has an incomplete analysis (idempotent no-op).
	BeginBulk(ctx context.Context, nets []netip.Prefix) error
	// AttachFollowUp records the opaque trace token this analysis is
	// waiting on.
	AttachFollowUp(ctx context.Context, treeNet netip.Prefix, token string) error
	// ByFollowUpToken finds the analysis waiting on token and clears the
	// pending field, returning the owning tree net.
	ByFollowUpToken(ctx context.Context, token string) (netip.Prefix, error)
	// Complete writes the final result and completion timestamp.
	Complete(ctx context.Context, treeNet netip.Prefix, result Result) error
	// OpenFor reports whether treeNet has an incomplete analysis.
	OpenFor(ctx context.Context, treeNet netip.Prefix) (bool, error)
	// Latest returns the most recently created analysis for treeNet, or
	// nil if none exists.
	Latest(ctx context.Context, treeNet netip.Prefix) (*Analysis, error)
}

// Store is a thin orchestration layer over Repository; the heavy lifting
// (uniqueness constraint on one open analysis per net) lives in the
// concrete Postgres schema, per spec §5's "unique pending-analysis
// constraint" ordering guarantee.
type Store struct {
	repo Repository
}

func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// BeginBulk opens analyses for every net in nets; duplicates are a no-op.
func (s *Store) BeginBulk(ctx context.Context, nets []netip.Prefix) error {
	if len(nets) == 0 {
		return nil
	}
	if err := s.repo.BeginBulk(ctx, nets); err != nil {
		return fmt.Errorf("analysisstore: begin bulk: %w", err)
	}
	return nil
}

// AttachFollowUp records token as the analysis's pending follow-up.
func (s *Store) AttachFollowUp(ctx context.Context, treeNet netip.Prefix, token string) error {
	if err := s.repo.AttachFollowUp(ctx, treeNet, token); err != nil {
		return fmt.Errorf("analysisstore: attach follow-up for %s: %w", treeNet, err)
	}
	return nil
}

// ResolveFollowUp matches an inbound TraceResponse's id against the
// pending token, clearing it, and returns the tree net it belongs to.
func (s *Store) ResolveFollowUp(ctx context.Context, token string) (netip.Prefix, error) {
	net, err := s.repo.ByFollowUpToken(ctx, token)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("analysisstore: resolve follow-up %s: %w", token, err)
	}
	return net, nil
}

// Complete records the final recommendation result against the open
// analysis for treeNet.
func (s *Store) Complete(ctx context.Context, treeNet netip.Prefix, result Result) error {
	if err := s.repo.Complete(ctx, treeNet, result); err != nil {
		return fmt.Errorf("analysisstore: complete %s: %w", treeNet, err)
	}
	return nil
}

// HasOpenAnalysis reports whether treeNet already has an incomplete
// analysis. It only reports; it neither warns about nor chooses between
// concurrent analyses.
func (s *Store) HasOpenAnalysis(ctx context.Context, treeNet netip.Prefix) (bool, error) {
	return s.repo.OpenFor(ctx, treeNet)
}

// Latest returns the most recently created analysis for treeNet, for
// read-only operator inspection.
func (s *Store) Latest(ctx context.Context, treeNet netip.Prefix) (*Analysis, error) {
	a, err := s.repo.Latest(ctx, treeNet)
	if err != nil {
		return nil, fmt.Errorf("analysisstore: latest for %s: %w", treeNet, err)
	}
	return a, nil
}
