// Package subnet constructs the left/right virtual children of a
// prefix-tree node for the split/keep decision, and diffs their LHR and
// weirdness sets.
package subnet

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/hexmap/aggregator/internal/measure"
	"go.uber.org/zap"
)

// ErrCannotSplit is returned when a net cannot be split further (already
// at /128, the system's finest possible net).
var ErrCannotSplit = errors.New("subnet: net has no room to split")

// Children is the canonical split of a parent net: increase the prefix
// length by one bit, producing exactly two child nets.
type Children struct {
	Left, Right netip.Prefix
}

// Split performs the canonical split.
func Split(parent netip.Prefix) (Children, error) {
	if parent.Bits() >= 128 {
		return Children{}, fmt.Errorf("%w: %s", ErrCannotSplit, parent)
	}

	childBits := parent.Bits() + 1
	base := parent.Masked().Addr()

	left := netip.PrefixFrom(base, childBits)

	bytes := base.As16()
	byteIdx := (childBits - 1) / 8
	bitIdx := 7 - (childBits-1)%8
	bytes[byteIdx] |= 1 << bitIdx
	right := netip.PrefixFrom(netip.AddrFrom16(bytes), childBits)

	return Children{Left: left, Right: right}, nil
}

// Loader fetches every persisted MeasurementTree contained in (or equal
// to) parent.
type Loader interface {
	LoadUnder(ctx context.Context, parent netip.Prefix) ([]*measure.Tree, error)
}

// Subnets holds the aggregated measurement for a node's two candidate
// children, built by merging every loaded tree that fits entirely into
// one side.
type Subnets struct {
	Parent netip.Prefix
	Left   *measure.Tree
	Right  *measure.Tree
}

// Build loads all trees under parent and merges each into whichever
// child net contains it. Trees straddling both children are skipped
// (and logged) since the measurement model has no way to split them
// further without re-probing.
func Build(ctx context.Context, parent netip.Prefix, loader Loader, log *zap.Logger) (*Subnets, error) {
	children, err := Split(parent)
	if err != nil {
		return nil, err
	}

	trees, err := loader.LoadUnder(ctx, parent)
	if err != nil {
		return nil, err
	}

	s := &Subnets{
		Parent: parent,
		Left:   measure.Empty(children.Left),
		Right:  measure.Empty(children.Right),
	}

	for _, t := range trees {
		switch {
		case fitsIn(children.Left, t.TargetNet):
			if err := s.Left.Merge(t); err != nil {
				return nil, err
			}
		case fitsIn(children.Right, t.TargetNet):
			if err := s.Right.Merge(t); err != nil {
				return nil, err
			}
		default:
			if log != nil {
				log.Warn("measurement tree straddles both split children, skipping",
					zap.String("parent", parent.String()),
					zap.String("tree_net", t.TargetNet.String()),
				)
			}
		}
	}

	return s, nil
}

func fitsIn(child, net netip.Prefix) bool {
	if child.Bits() > net.Bits() {
		return false
	}
	return child.Masked().Contains(net.Addr())
}
