package net64

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyForAddrAndNetAgree(t *testing.T) {
	addr := netip.MustParseAddr("2001:db8:1234:5678::beef")
	net64 := netip.MustParsePrefix("2001:db8:1234:5678::/64")

	kAddr, err := KeyForAddr(addr)
	require.NoError(t, err)

	kNet, err := KeyForNet(net64)
	require.NoError(t, err)

	assert.Equal(t, kNet, kAddr, "address and its /64 must map to the same bucket")
}

func TestKeyForNetRejectsNonSlash64(t *testing.T) {
	_, err := KeyForNet(netip.MustParsePrefix("2001:db8::/48"))
	assert.ErrorIs(t, err, ErrNotSlash64)
}

func TestEntryOrInsertsOnce(t *testing.T) {
	m := New[*int]()
	net := netip.MustParsePrefix("2001:db8::/64")

	calls := 0
	factory := func() *int {
		calls++
		v := 0
		return &v
	}

	v1, err := m.EntryOr(net, factory)
	require.NoError(t, err)
	*v1 = 42

	v2, err := m.EntryOr(net, factory)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 42, *v2)
	assert.Equal(t, 1, m.Len())
}

func TestKeyNetRoundTrips(t *testing.T) {
	net := netip.MustParsePrefix("2001:db8:1234:5678::/64")
	key, err := KeyForNet(net)
	require.NoError(t, err)
	assert.Equal(t, net, key.Net())
}

func TestDrainEmptiesMap(t *testing.T) {
	m := New[int]()
	for i := 0; i < 4; i++ {
		m.Set(Key(i), i)
	}

	seen := map[Key]int{}
	for k, v := range m.Drain() {
		seen[k] = v
	}

	assert.Len(t, seen, 4)
	assert.Equal(t, 0, m.Len())
}
