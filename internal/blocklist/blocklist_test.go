package blocklist

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFromSkipsBlankAndComment(t *testing.T) {
	r := strings.NewReader("# comment\n\n2001:db8::/32\n")
	bl, err := ReadFrom(r)
	require.NoError(t, err)
	assert.True(t, bl.Contains(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, bl.Contains(netip.MustParseAddr("2001:db9::1")))
}

func TestWholeNetBlockedRequiresFullCoverage(t *testing.T) {
	bl := NewStatic([]netip.Prefix{netip.MustParsePrefix("2001:db8::/32")})
	assert.True(t, bl.WholeNetBlocked(netip.MustParsePrefix("2001:db8::/48")))
	assert.False(t, bl.WholeNetBlocked(netip.MustParsePrefix("2001::/16")))
}

func TestAnySubnetBlocked(t *testing.T) {
	bl := NewStatic([]netip.Prefix{netip.MustParsePrefix("2001:db8:1::/48")})
	assert.True(t, bl.AnySubnetBlocked(netip.MustParsePrefix("2001:db8::/32")))
	assert.False(t, bl.AnySubnetBlocked(netip.MustParsePrefix("2001:db9::/32")))
}
