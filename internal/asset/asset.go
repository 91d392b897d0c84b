// Package asset specifies the contract the core consumes for AS-set
// ingestion. Per spec §1 the filesystem-mirror watcher that keeps this
// data current is an external collaborator; this package only describes
// how the core looks an origin ASN up for a prefix.
package asset

import "net/netip"

// Lookup resolves the origin ASN announcing the longest matching prefix
// for a given net, backed by the as_prefix table (net pk, deleted bool,
// asn i64).
type Lookup interface {
	// ASNFor returns the origin ASN for the longest as_prefix entry
	// containing net, and false if nothing covers it (or the only
	// covering entry is soft-deleted).
	ASNFor(net netip.Prefix) (asn int64, ok bool)
}

// Static is an in-memory Lookup snapshot, suitable for tests or a
// periodically-reloaded cache of the filesystem mirror.
type Static struct {
	entries []entry
}

type entry struct {
	net netip.Prefix
	asn int64
}

// NewStatic builds a Static lookup. Soft-deleted entries should simply
// be omitted by the caller before construction.
func NewStatic(asPrefixes map[netip.Prefix]int64) *Static {
	s := &Static{entries: make([]entry, 0, len(asPrefixes))}
	for net, asn := range asPrefixes {
		s.entries = append(s.entries, entry{net: net.Masked(), asn: asn})
	}
	return s
}

func (s *Static) ASNFor(net netip.Prefix) (int64, bool) {
	best := -1
	var asn int64
	for _, e := range s.entries {
		if e.net.Bits() <= net.Bits() && e.net.Contains(net.Addr()) && e.net.Bits() > best {
			best = e.net.Bits()
			asn = e.asn
		}
	}
	if best < 0 {
		return 0, false
	}
	return asn, true
}
