package subnet

import (
	"context"
	"net/netip"
	"testing"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitProducesTwoDisjointChildrenCoveringParent(t *testing.T) {
	parent := netip.MustParsePrefix("2001:db8::/64")
	children, err := Split(parent)
	require.NoError(t, err)

	assert.Equal(t, 65, children.Left.Bits())
	assert.Equal(t, 65, children.Right.Bits())
	assert.NotEqual(t, children.Left, children.Right)
	assert.True(t, parent.Contains(children.Left.Addr()))
	assert.True(t, parent.Contains(children.Right.Addr()))
}

type fakeLoader struct {
	trees []*measure.Tree
}

func (f fakeLoader) LoadUnder(ctx context.Context, parent netip.Prefix) ([]*measure.Tree, error) {
	return f.trees, nil
}

func TestBuildMergesIntoCorrectChildAndSkipsStraddlers(t *testing.T) {
	parent := netip.MustParsePrefix("2001:db8::/64")
	children, _ := Split(parent)

	leftTree := measure.Empty(children.Left)
	leftTree.ResponsiveCount = 3
	rightTree := measure.Empty(children.Right)
	rightTree.ResponsiveCount = 5
	straddler := measure.Empty(parent) // same as parent: fits in neither child alone

	loader := fakeLoader{trees: []*measure.Tree{leftTree, rightTree, straddler}}

	s, err := Build(context.Background(), parent, loader, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Left.ResponsiveCount)
	assert.EqualValues(t, 5, s.Right.ResponsiveCount)
}

func TestLhrDiffBothSameSingle(t *testing.T) {
	parent := netip.MustParsePrefix("2001:db8::/64")
	children, _ := Split(parent)
	lhr := netip.MustParseAddr("2001:db8::1")

	left := measure.Empty(children.Left)
	left.AddLhrNoSum(lhr, []measure.LhrSource{measure.LhrSourceTrace}, 2)
	right := measure.Empty(children.Right)
	right.AddLhrNoSum(lhr, []measure.LhrSource{measure.LhrSourceTrace}, 7)

	s := &Subnets{Parent: parent, Left: left, Right: right}
	diff := s.LhrDiff()
	single, ok := diff.(LhrBothSameSingle)
	require.True(t, ok)
	assert.Equal(t, lhr, single.Lhr)
	assert.EqualValues(t, [2]int32{2, 7}, single.Diff.HitCounts)
}

func TestLhrDiffDisjoint(t *testing.T) {
	parent := netip.MustParsePrefix("2001:db8::/64")
	children, _ := Split(parent)

	left := measure.Empty(children.Left)
	left.AddLhrNoSum(netip.MustParseAddr("2001:db8::1"), nil, 2)
	right := measure.Empty(children.Right)
	right.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 3)

	s := &Subnets{Parent: parent, Left: left, Right: right}
	diff := s.LhrDiff()
	dj, ok := diff.(LhrOverlappingOrDisjoint)
	require.True(t, ok)
	assert.Empty(t, dj.Shared)
	assert.Len(t, dj.Distinct, 2)
}
