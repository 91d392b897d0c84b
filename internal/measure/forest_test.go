package measure

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForestRejectsIPv4(t *testing.T) {
	f := NewForest()
	v4 := netip.MustParsePrefix("10.0.0.0/24")
	tr := &Tree{TargetNet: v4, LastHopRouters: map[netip.Addr]*LhrRecord{}, Weirdness: map[WeirdType]*WeirdRecord{}}
	assert.ErrorIs(t, f.Insert(tr), ErrIPv4Net)
}

func TestForestRejectsFinerThanSlash64(t *testing.T) {
	f := NewForest()
	tr := Empty(netip.MustParsePrefix("2001:db8::/80"))
	assert.ErrorIs(t, f.Insert(tr), ErrTooFine)
}

func TestForestTouchedTracksModification(t *testing.T) {
	net := netip.MustParsePrefix("2001:db8::/64")
	seed := Empty(net)
	seed.AddLhrNoSum(netip.MustParseAddr("2001:db8::1"), []LhrSource{LhrSourceTrace}, 2)

	f, err := WithUntouched([]*Tree{seed})
	require.NoError(t, err)

	var touchedBefore int
	for range f.Touched() {
		touchedBefore++
	}
	assert.Zero(t, touchedBefore)

	update := Empty(net)
	update.AddLhrNoSum(netip.MustParseAddr("2001:db8::2"), []LhrSource{LhrSourceTrace}, 1)
	require.NoError(t, f.Insert(update))

	var touched []*ModifiableTree
	for mt := range f.Touched() {
		touched = append(touched, mt)
	}
	require.Len(t, touched, 1)
	assert.Equal(t, Updated, touched[0].Mod)
}

func TestForestMergesIntoExistingSupernet(t *testing.T) {
	super := Empty(netip.MustParsePrefix("2001:db8::/63"))
	f, err := WithUntouched([]*Tree{super})
	require.NoError(t, err)

	child := Empty(netip.MustParsePrefix("2001:db8::/64"))
	child.AddLhrNoSum(netip.MustParseAddr("2001:db8::1"), []LhrSource{LhrSourceTrace}, 7)
	require.NoError(t, f.Insert(child))

	assert.Equal(t, 1, f.Len(), "child must be consumed into the existing supernet, not live on its own")
}

func TestForestFreshSlash64InsertVsUpdate(t *testing.T) {
	net := netip.MustParsePrefix("2001:db8::/64")
	f := NewForest()

	require.NoError(t, f.Insert(Empty(net)))
	var first []*ModifiableTree
	for mt := range f.Touched() {
		first = append(first, mt)
	}
	require.Len(t, first, 1)
	assert.Equal(t, Inserted, first[0].Mod)

	require.NoError(t, f.Insert(Empty(net)))
	var second []*ModifiableTree
	for mt := range f.Touched() {
		second = append(second, mt)
	}
	require.Len(t, second, 1)
	assert.Equal(t, Updated, second[0].Mod)
}
