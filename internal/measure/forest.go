package measure

import (
	"errors"
	"fmt"
	"iter"
	"net/netip"

	"github.com/hexmap/aggregator/internal/net64"
)

// ModificationType tracks whether a forest entry was touched during the
// current batch, driving what the persistence layer needs to write back.
type ModificationType int

const (
	Untouched ModificationType = iota
	Inserted
	Updated
)

// ModifiableTree pairs a Tree with its modification state.
type ModifiableTree struct {
	Tree *Tree
	Mod  ModificationType
}

// ErrIPv4Net is returned when a Forest is asked to hold a non-IPv6 net.
var ErrIPv4Net = errors.New("measure: forest only holds IPv6 nets")

// ErrTooFine is returned when a tree's net is finer than /64.
var ErrTooFine = errors.New("measure: forest rejects nets finer than /64")

// Forest is a collection of Trees under /64 (trees64) or merged
// supernets shorter than /64 (mergedTrees).
type Forest struct {
	trees64     *net64.Map[*ModifiableTree]
	mergedTrees []*ModifiableTree
}

// NewForest returns an empty Forest.
func NewForest() *Forest {
	return &Forest{trees64: net64.New[*ModifiableTree]()}
}

// WithUntouched seeds a Forest from already-persisted trees, marking
// every entry Untouched. A subsequent Insert flips the entry to Updated.
func WithUntouched(trees []*Tree) (*Forest, error) {
	f := NewForest()
	for _, t := range trees {
		if err := f.insert(t, Untouched); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Insert folds t into the forest. If t's net is contained in an existing
// mergedTrees entry, it is merged into that entry (marked Updated);
// otherwise a /64 lands in trees64 and anything between /0 and /63 lands
// in mergedTrees, marked Inserted on first sight or Updated on collision.
func (f *Forest) Insert(t *Tree) error {
	return f.insert(t, Inserted)
}

func (f *Forest) insert(t *Tree, freshMod ModificationType) error {
	if !t.TargetNet.Addr().Is6() {
		return ErrIPv4Net
	}
	if t.TargetNet.Bits() > 64 {
		return fmt.Errorf("%w: %s", ErrTooFine, t.TargetNet)
	}

	for _, entry := range f.mergedTrees {
		if containsOrEqual(entry.Tree.TargetNet, t.TargetNet) {
			if err := entry.Tree.Merge(t); err != nil {
				return err
			}
			if freshMod != Untouched {
				entry.Mod = Updated
			}
			return nil
		}
	}

	if t.TargetNet.Bits() == 64 {
		key, err := net64.KeyForNet(t.TargetNet)
		if err != nil {
			return err
		}
		if existing, ok := f.trees64.Get(key); ok {
			if err := existing.Tree.Merge(t); err != nil {
				return err
			}
			if freshMod != Untouched {
				existing.Mod = Updated
			}
			return nil
		}
		f.trees64.Set(key, &ModifiableTree{Tree: t, Mod: freshMod})
		return nil
	}

	// Strictly between /0 and /63: a brand-new merged-supernet entry.
	f.mergedTrees = append(f.mergedTrees, &ModifiableTree{Tree: t, Mod: freshMod})
	return nil
}

// Touched iterates every entry whose ModificationType is not Untouched.
func (f *Forest) Touched() iter.Seq[*ModifiableTree] {
	return func(yield func(*ModifiableTree) bool) {
		for mt := range f.trees64.Values() {
			if mt.Mod != Untouched {
				if !yield(mt) {
					return
				}
			}
		}
		for _, mt := range f.mergedTrees {
			if mt.Mod != Untouched {
				if !yield(mt) {
					return
				}
			}
		}
	}
}

// AllNets iterates every net held in the forest, touched or not.
func (f *Forest) AllNets() iter.Seq[netip.Prefix] {
	return func(yield func(netip.Prefix) bool) {
		for mt := range f.trees64.Values() {
			if !yield(mt.Tree.TargetNet) {
				return
			}
		}
		for _, mt := range f.mergedTrees {
			if !yield(mt.Tree.TargetNet) {
				return
			}
		}
	}
}

// Len reports the total number of distinct trees (/64 plus merged).
func (f *Forest) Len() int {
	return f.trees64.Len() + len(f.mergedTrees)
}
