package measure

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIsAssociativeAndCommutative(t *testing.T) {
	super := netip.MustParsePrefix("2001:db8::/63")
	a := netip.MustParsePrefix("2001:db8::/64")
	b := netip.MustParsePrefix("2001:db8:0:1::/64")
	lhr := netip.MustParseAddr("2001:db8::1")

	build := func() (*Tree, *Tree) {
		ta := Empty(a)
		ta.AddLhrNoSum(lhr, []LhrSource{LhrSourceTrace}, 3)
		tb := Empty(b)
		tb.AddLhrNoSum(lhr, []LhrSource{LhrSourceUnreachAdmin}, 5)
		return ta, tb
	}

	ta1, tb1 := build()
	order1 := Empty(super)
	require.NoError(t, order1.Merge(ta1))
	require.NoError(t, order1.Merge(tb1))

	ta2, tb2 := build()
	order2 := Empty(super)
	require.NoError(t, order2.Merge(tb2))
	require.NoError(t, order2.Merge(ta2))

	assert.Equal(t, order1.LastHopRouters[lhr].HitCount, order2.LastHopRouters[lhr].HitCount)
	assert.Equal(t, order1.LastHopRouters[lhr].Sources, order2.LastHopRouters[lhr].Sources)
}

func TestMergeRejectsIncomparableNets(t *testing.T) {
	a := Empty(netip.MustParsePrefix("2001:db8::/64"))
	b := Empty(netip.MustParsePrefix("2001:db8:1::/64"))
	assert.ErrorIs(t, a.Merge(b), ErrIncomparable)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, int32(2147483647), satAdd32(2147483647, 10))
	assert.Equal(t, int32(-2147483648), satAdd32(-2147483648, -10))
	assert.Equal(t, int32(15), satAdd32(10, 5))
}

func TestLhrSetHashStableUnderInsertOrder(t *testing.T) {
	net := netip.MustParsePrefix("2001:db8::/64")
	t1 := Empty(net)
	t1.AddLhrNoSum(netip.MustParseAddr("2001:db8::1"), nil, 1)
	t1.AddLhrNoSum(netip.MustParseAddr("2001:db8::2"), nil, 1)

	t2 := Empty(net)
	t2.AddLhrNoSum(netip.MustParseAddr("2001:db8::2"), nil, 1)
	t2.AddLhrNoSum(netip.MustParseAddr("2001:db8::1"), nil, 1)

	assert.Equal(t, t1.LhrSetHash(), t2.LhrSetHash())
}
