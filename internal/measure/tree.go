// Package measure holds the per-prefix measurement record and the forest
// that aggregates it across a /64-rooted IPv6 address space.
package measure

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LhrSource identifies which kind of ICMP signal attributed a last-hop
// router address.
type LhrSource int

const (
	LhrSourceTrace LhrSource = iota
	LhrSourceUnreachAdmin
	LhrSourceUnreachPort
	LhrSourceUnreachAddr
	LhrSourceUnreachRoute
)

// WeirdType enumerates ICMP signals that are neither a clean LHR
// attribution nor a plain echo reply.
type WeirdType int

const (
	WeirdDestUnreachOther WeirdType = iota
	WeirdDestUnreachRejectRoute
	WeirdDestUnreachFailedEgress
	WeirdDifferentEchoReplySource
	WeirdEchoReplyInTrace
	WeirdUnexpectedIcmpType
	WeirdTtlExceededForEcho
)

// LhrRecord is the per-LHR tally inside a Tree.
type LhrRecord struct {
	Sources  map[LhrSource]struct{}
	HitCount int32
}

// WeirdRecord is the per-WeirdType tally inside a Tree.
type WeirdRecord struct {
	HitCount int32
}

// Tree is the measurement record for a single IPv6 net, which is either a
// /64 or a supernet covering a contiguous region no finer than /64.
type Tree struct {
	TargetNet netip.Prefix
	CreatedAt time.Time
	UpdatedAt time.Time

	ResponsiveCount   int32
	UnresponsiveCount int32

	LastHopRouters map[netip.Addr]*LhrRecord
	Weirdness      map[WeirdType]*WeirdRecord
}

// Empty constructs a fresh, zeroed Tree for net.
func Empty(net netip.Prefix) *Tree {
	now := time.Now()
	return &Tree{
		TargetNet:      net,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastHopRouters: make(map[netip.Addr]*LhrRecord),
		Weirdness:      make(map[WeirdType]*WeirdRecord),
	}
}

// ErrIncomparable is returned by Merge when the receiver's net does not
// contain the argument's net.
var ErrIncomparable = errors.New("measure: nets are not in a supernet relation")

// Merge folds other into t. t.TargetNet must contain (or equal)
// other.TargetNet. All counts saturate-add; LHR and weirdness maps union
// keys, unioning source sets and saturate-adding hit counts.
func (t *Tree) Merge(other *Tree) error {
	if !containsOrEqual(t.TargetNet, other.TargetNet) {
		return fmt.Errorf("%w: %s does not contain %s", ErrIncomparable, t.TargetNet, other.TargetNet)
	}

	t.ResponsiveCount = satAdd32(t.ResponsiveCount, other.ResponsiveCount)
	t.UnresponsiveCount = satAdd32(t.UnresponsiveCount, other.UnresponsiveCount)

	for addr, rec := range other.LastHopRouters {
		dst, ok := t.LastHopRouters[addr]
		if !ok {
			dst = &LhrRecord{Sources: make(map[LhrSource]struct{})}
			t.LastHopRouters[addr] = dst
		}
		for src := range rec.Sources {
			dst.Sources[src] = struct{}{}
		}
		dst.HitCount = satAdd32(dst.HitCount, rec.HitCount)
	}

	for typ, rec := range other.Weirdness {
		dst, ok := t.Weirdness[typ]
		if !ok {
			dst = &WeirdRecord{}
			t.Weirdness[typ] = dst
		}
		dst.HitCount = satAdd32(dst.HitCount, rec.HitCount)
	}

	t.UpdatedAt = time.Now()
	return nil
}

// AddLhrNoSum records hits on addr via sources without touching
// responsive/unresponsive counters (the caller owns those).
func (t *Tree) AddLhrNoSum(addr netip.Addr, sources []LhrSource, hits int32) {
	rec, ok := t.LastHopRouters[addr]
	if !ok {
		rec = &LhrRecord{Sources: make(map[LhrSource]struct{})}
		t.LastHopRouters[addr] = rec
	}
	for _, s := range sources {
		rec.Sources[s] = struct{}{}
	}
	rec.HitCount = satAdd32(rec.HitCount, hits)
	t.UpdatedAt = time.Now()
}

// AddWeirdNoSum records hits on a WeirdType.
func (t *Tree) AddWeirdNoSum(typ WeirdType, hits int32) {
	rec, ok := t.Weirdness[typ]
	if !ok {
		rec = &WeirdRecord{}
		t.Weirdness[typ] = rec
	}
	rec.HitCount = satAdd32(rec.HitCount, hits)
	t.UpdatedAt = time.Now()
}

// IsEmpty reports whether the tree carries no observations at all.
func (t *Tree) IsEmpty() bool {
	return t.ResponsiveCount == 0 && t.UnresponsiveCount == 0 &&
		len(t.LastHopRouters) == 0 && len(t.Weirdness) == 0
}

// LhrSetHash is the first 128 bits of SHA-256 over the sorted-unique LHR
// addresses of the tree.
func (t *Tree) LhrSetHash() uuid.UUID {
	addrs := make([]string, 0, len(t.LastHopRouters))
	for addr := range t.LastHopRouters {
		addrs = append(addrs, addr.String())
	}
	sort.Strings(addrs)

	h := sha256.New()
	for _, a := range addrs {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)

	var out uuid.UUID
	copy(out[:], sum[:16])
	return out
}

// TryNetIntoV6 validates that TargetNet is an IPv6 net, returning it
// unchanged or an error.
func (t *Tree) TryNetIntoV6() (netip.Prefix, error) {
	if !t.TargetNet.Addr().Is6() {
		return netip.Prefix{}, fmt.Errorf("measure: %s is not an IPv6 net", t.TargetNet)
	}
	return t.TargetNet, nil
}

func satAdd32(a, b int32) int32 {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	if sum < math.MinInt32 {
		return math.MinInt32
	}
	return int32(sum)
}

// containsOrEqual reports whether a contains b, including a == b.
func containsOrEqual(a, b netip.Prefix) bool {
	if a.Bits() > b.Bits() {
		return false
	}
	return a.Masked().Contains(b.Addr())
}
