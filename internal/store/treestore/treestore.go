// Package treestore implements the PrefixTree state machine: split-insert,
// redundant-neighbor merge, and the node lifecycle named in spec §3/§4.H.
// Persistence itself is delegated to a Repository, concretely backed by
// Postgres in internal/store/pg.
package treestore

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/hexmap/aggregator/internal/blocklist"
	"github.com/hexmap/aggregator/internal/recommend"
	"github.com/hexmap/aggregator/internal/subnet"
)

// MergeStatus is the node lifecycle tag.
type MergeStatus int

const (
	Leaf MergeStatus = iota
	MinSizeReached
	SplitDown
	MergedUp
	UnsplitRoot
	SplitRoot
	Blocked
)

func (s MergeStatus) String() string {
	switch s {
	case Leaf:
		return "leaf"
	case MinSizeReached:
		return "min_size_reached"
	case SplitDown:
		return "split_down"
	case MergedUp:
		return "merged_up"
	case UnsplitRoot:
		return "unsplit_root"
	case SplitRoot:
		return "split_root"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Split computes the transition a parent undergoes when one of its
// children is created. Root variants are idempotent; Blocked is
// terminal; everything else advances to SplitDown.
func (s MergeStatus) Split() MergeStatus {
	switch s {
	case UnsplitRoot, SplitRoot:
		return SplitRoot
	case Blocked:
		return Blocked
	default:
		return SplitDown
	}
}

// Eligible reports whether a node in this status may receive a fresh
// analysis — only Leaf and UnsplitRoot qualify.
func (s MergeStatus) Eligible() bool {
	return s == Leaf || s == UnsplitRoot
}

// MinChildPrefixLen is the child-length at which a freshly-split child
// is born MinSizeReached instead of Leaf (the /64 floor).
const MinChildPrefixLen = 64

// childStatus derives the lifecycle a fresh child node is born into.
func childStatus(childBits int) MergeStatus {
	if childBits >= MinChildPrefixLen {
		return MinSizeReached
	}
	return Leaf
}

// Node is the persisted PrefixTree row.
type Node struct {
	Net           netip.Prefix
	CreatedAt     time.Time
	UpdatedAt     time.Time
	MergeStatus   MergeStatus
	PriorityClass recommend.PriorityClass
	Confidence    uint8
	LhrSetHash    uuid.UUID
	ASN           int64
}

// FreshConfidence is the sentinel confidence a redundant-merge parent is
// reopened with; the Leaf/UnsplitRoot status it is reopened into, not
// this value, is what makes it eligible again.
const FreshConfidence = 4

// Repository is the persistence contract treestore drives. Every method
// here participates in the caller's transaction (the Repository value is
// bound to it, per the pg package's convention).
type Repository interface {
	Get(ctx context.Context, net netip.Prefix) (*Node, error)
	Sibling(ctx context.Context, net netip.Prefix) (*Node, error)
	Parent(ctx context.Context, net netip.Prefix) (*Node, error)
	Insert(ctx context.Context, n *Node) error
	UpdateClassification(ctx context.Context, net netip.Prefix, class recommend.PriorityClass, confidence uint8, hash uuid.UUID) error
	UpdateStatus(ctx context.Context, net netip.Prefix, status MergeStatus) error
	UpdateStatusAndClass(ctx context.Context, net netip.Prefix, status MergeStatus, class recommend.PriorityClass, confidence uint8) error
}

// SufficientlySure is the confidence floor that gates tree mutation.
const SufficientlySure = 100

// Store drives the PrefixTree state machine against a Repository.
type Store struct {
	repo      Repository
	blocklist blocklist.Blocklist
}

// New builds a Store. blocklist may be nil to disable the
// fully-inside-blocklist-on-split check.
func New(repo Repository, bl blocklist.Blocklist) *Store {
	return &Store{repo: repo, blocklist: bl}
}

// Apply performs the full §4.H contract for one recommendation against
// the node owning net: it always records the fresh classification, then
// either splits, merges-redundant, or leaves the node as-is. confidence
// is the freshly rated score for this recommendation (component G's
// output), not whatever was previously stored.
func (s *Store) Apply(ctx context.Context, net netip.Prefix, rec recommend.SplitRecommendation, confidence uint8, hash uuid.UUID) error {
	node, err := s.repo.Get(ctx, net)
	if err != nil {
		return fmt.Errorf("treestore: fetch %s: %w", net, err)
	}

	priority := rec.Priority()
	if err := s.repo.UpdateClassification(ctx, net, priority.Class, confidence, hash); err != nil {
		return fmt.Errorf("treestore: classify %s: %w", net, err)
	}
	node.PriorityClass = priority.Class
	node.Confidence = confidence

	shouldSplit, determined := recommend.ShouldSplit(rec)
	if !determined {
		return nil
	}

	if shouldSplit {
		if node.MergeStatus.Eligible() && node.Confidence >= SufficientlySure {
			return s.split(ctx, node)
		}
		return nil
	}
	return s.mergeRedundant(ctx, node)
}

func (s *Store) split(ctx context.Context, parent *Node) error {
	children, err := subnet.Split(parent.Net)
	if err != nil {
		return fmt.Errorf("treestore: split %s: %w", parent.Net, err)
	}

	now := timeNow()
	for _, child := range []netip.Prefix{children.Left, children.Right} {
		status := childStatus(child.Bits())
		if s.blocklist != nil && s.blocklist.WholeNetBlocked(child) {
			status = Blocked
		}
		n := &Node{
			Net:           child,
			CreatedAt:     now,
			UpdatedAt:     now,
			MergeStatus:   status,
			PriorityClass: recommend.HighFresh,
			ASN:           parent.ASN,
		}
		if err := s.repo.Insert(ctx, n); err != nil {
			return fmt.Errorf("treestore: insert child %s: %w", child, err)
		}
	}

	return s.repo.UpdateStatus(ctx, parent.Net, parent.MergeStatus.Split())
}

func (s *Store) mergeRedundant(ctx context.Context, node *Node) error {
	sibling, err := s.repo.Sibling(ctx, node.Net)
	if err != nil || sibling == nil {
		return nil
	}
	if sibling.MergeStatus != Leaf || sibling.PriorityClass != node.PriorityClass || sibling.Confidence < SufficientlySure {
		return nil
	}

	parent, err := s.repo.Parent(ctx, node.Net)
	if err != nil || parent == nil || parent.MergeStatus == Blocked {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, node.Net, MergedUp); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, sibling.Net, MergedUp); err != nil {
		return err
	}

	reopened := Leaf
	if parent.MergeStatus == SplitRoot {
		reopened = UnsplitRoot
	}
	return s.repo.UpdateStatusAndClass(ctx, parent.Net, reopened, recommend.HighFresh, FreshConfidence)
}

// timeNow is overridable in tests; production calls time.Now directly.
var timeNow = time.Now
