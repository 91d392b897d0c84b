// Package measurestore persists the MeasurementForest's touched entries
// as jsonb rows and implements subnet.Loader by reading them back (spec
// §3's measurement_tree table and §4.E's load-all-contained-trees step).
package measurestore

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/net64"
)

// Repository is the persistence contract this package drives.
type Repository interface {
	// Get returns the exact row for net, or nil if absent.
	Get(ctx context.Context, net netip.Prefix) (*measure.Tree, error)
	// Upsert writes or overwrites the row for tree.TargetNet.
	Upsert(ctx context.Context, tree *measure.Tree) error
	// LoadContained returns every measurement_tree row whose target_net
	// is contained in (or equal to) parent, using the CIDR `<<=` /
	// `=` operators.
	LoadContained(ctx context.Context, parent netip.Prefix) ([]*measure.Tree, error)
}

// Store persists a MeasurementForest's touched trees and loads
// contained trees back out for the subnet split view.
type Store struct {
	repo Repository
}

func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// PersistTouched writes every Inserted/Updated entry from forest. Trees
// left Untouched since the last with_untouched seed are skipped.
func (s *Store) PersistTouched(ctx context.Context, forest *measure.Forest) error {
	for mt := range forest.Touched() {
		if err := s.repo.Upsert(ctx, mt.Tree); err != nil {
			return fmt.Errorf("measurestore: upsert %s: %w", mt.Tree.TargetNet, err)
		}
	}
	return nil
}

// MergeDeltas folds every /64 delta in updates into its persisted tree,
// creating a fresh one if none exists yet, and upserts the result. This
// is how an interpreted response's per-/64 updates reach the forest
// without materializing the whole MeasurementForest in memory per
// request.
func (s *Store) MergeDeltas(ctx context.Context, updates *net64.Map[*measure.Tree]) error {
	for key, delta := range updates.Entries() {
		net := key.Net()
		existing, err := s.repo.Get(ctx, net)
		if err != nil {
			return fmt.Errorf("measurestore: get %s: %w", net, err)
		}
		if existing == nil {
			existing = measure.Empty(net)
		}
		if err := existing.Merge(delta); err != nil {
			return fmt.Errorf("measurestore: merge delta for %s: %w", net, err)
		}
		if err := s.repo.Upsert(ctx, existing); err != nil {
			return fmt.Errorf("measurestore: upsert %s: %w", net, err)
		}
	}
	return nil
}

// Get returns the exact measurement tree for net, or nil if absent, for
// read-only operator inspection.
func (s *Store) Get(ctx context.Context, net netip.Prefix) (*measure.Tree, error) {
	tree, err := s.repo.Get(ctx, net)
	if err != nil {
		return nil, fmt.Errorf("measurestore: get %s: %w", net, err)
	}
	return tree, nil
}

// LoadUnder implements subnet.Loader.
func (s *Store) LoadUnder(ctx context.Context, parent netip.Prefix) ([]*measure.Tree, error) {
	trees, err := s.repo.LoadContained(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("measurestore: load under %s: %w", parent, err)
	}
	return trees, nil
}
