package recommend

import (
	"net/netip"
	"testing"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/subnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSubnets(t *testing.T, populate func(left, right *measure.Tree)) *subnet.Subnets {
	t.Helper()
	parent := netip.MustParsePrefix("2001:db8::/64")
	children, err := subnet.Split(parent)
	require.NoError(t, err)
	left := measure.Empty(children.Left)
	right := measure.Empty(children.Right)
	populate(left, right)
	return &subnet.Subnets{Parent: parent, Left: left, Right: right}
}

func TestSameSingleLhr(t *testing.T) {
	lhr := netip.MustParseAddr("2001:db8::1")
	s := buildSubnets(t, func(left, right *measure.Tree) {
		left.AddLhrNoSum(lhr, nil, 2)
		right.AddLhrNoSum(lhr, nil, 7)
	})

	rec := Recommend(s)
	keep, ok := rec.(NoKeep)
	require.True(t, ok)
	assert.Equal(t, MediumSameSingle, keep.P.Class)
	assert.EqualValues(t, 9, keep.P.SupportingObservations)
}

func TestSameMultiDifferentRatio(t *testing.T) {
	s := buildSubnets(t, func(left, right *measure.Tree) {
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 13)
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 8)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 31)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 8)
	})

	rec := Recommend(s)
	yes, ok := rec.(YesSplit)
	require.True(t, ok)
	assert.Equal(t, MediumSameMulti, yes.P.Class)
	assert.EqualValues(t, 38, yes.P.SupportingObservations)
}

func TestSameManySharedLhrs(t *testing.T) {
	addrs := []string{"::1", "::2", "::3", "::4", "::5"}
	var total int32
	s := buildSubnets(t, func(left, right *measure.Tree) {
		for i, a := range addrs {
			addr := netip.MustParseAddr("2001:db8::" + a[2:])
			lh := int32(i + 1)
			rh := int32(i + 2)
			left.AddLhrNoSum(addr, nil, lh)
			right.AddLhrNoSum(addr, nil, rh)
			total += lh + rh
		}
	})

	rec := Recommend(s)
	keep, ok := rec.(NoKeep)
	require.True(t, ok)
	assert.Equal(t, MediumSameMany, keep.P.Class)
	assert.EqualValues(t, total/4, keep.P.SupportingObservations)
}

func TestDisjointLhrs(t *testing.T) {
	s := buildSubnets(t, func(left, right *measure.Tree) {
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 2)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 3)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::1:beef"), nil, 3)
	})

	rec := Recommend(s)
	yes, ok := rec.(YesSplit)
	require.True(t, ok)
	assert.Equal(t, HighDisjoint, yes.P.Class)
	assert.EqualValues(t, 8, yes.P.SupportingObservations)
}

func TestOverlappingLhrs(t *testing.T) {
	s := buildSubnets(t, func(left, right *measure.Tree) {
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 2)
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 12)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 3)
	})

	rec := Recommend(s)
	yes, ok := rec.(YesSplit)
	require.True(t, ok)
	assert.Equal(t, HighOverlapping, yes.P.Class)
	assert.EqualValues(t, 14, yes.P.SupportingObservations)
}

func TestRecommendIsSymmetricUnderSwap(t *testing.T) {
	build := func(left, right *measure.Tree) {
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 13)
		left.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 8)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::101"), nil, 31)
		right.AddLhrNoSum(netip.MustParseAddr("2001:db8::beef"), nil, 8)
	}
	s := buildSubnets(t, build)
	swapped := buildSubnets(t, func(left, right *measure.Tree) { build(right, left) })

	rec1 := Recommend(s)
	rec2 := Recommend(swapped)
	assert.Equal(t, rec1.Priority().Class, rec2.Priority().Class)
}

func TestBothNoneDispatchesToWeirdUnknown(t *testing.T) {
	s := buildSubnets(t, func(left, right *measure.Tree) {
		left.UnresponsiveCount = 4
		right.UnresponsiveCount = 6
	})

	rec := Recommend(s)
	cd, ok := rec.(CannotDetermine)
	require.True(t, ok)
	assert.Equal(t, LowUnknown, cd.P.Class)
	assert.EqualValues(t, 10, cd.P.SupportingObservations)
}
