package asset

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestASNForPrefersLongestMatch(t *testing.T) {
	s := NewStatic(map[netip.Prefix]int64{
		netip.MustParsePrefix("2001:db8::/32"):    64500,
		netip.MustParsePrefix("2001:db8:1::/48"):  64501,
	})
	asn, ok := s.ASNFor(netip.MustParsePrefix("2001:db8:1::/64"))
	assert.True(t, ok)
	assert.Equal(t, int64(64501), asn)
}

func TestASNForMissesOutsideCoverage(t *testing.T) {
	s := NewStatic(map[netip.Prefix]int64{
		netip.MustParsePrefix("2001:db8::/32"): 64500,
	})
	_, ok := s.ASNFor(netip.MustParsePrefix("2002::/32"))
	assert.False(t, ok)
}
