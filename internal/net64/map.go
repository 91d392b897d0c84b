// Package net64 implements a hash container keyed by the upper 64 bits of
// an IPv6 address, the natural bucket granularity for a /64-rooted prefix
// forest.
package net64

import (
	"errors"
	"fmt"
	"iter"
	"net/netip"
)

// Key is the upper 64 bits of an IPv6 address (addr >> 64).
type Key uint64

// ErrNotSlash64 is returned when a key is derived from a net whose prefix
// length is not exactly 64.
var ErrNotSlash64 = errors.New("net64: net is not a /64")

// KeyForAddr derives the bucket key for any address within a /64. Indexing
// by an address and indexing by that address's /64 net always land in the
// same bucket.
func KeyForAddr(addr netip.Addr) (Key, error) {
	if !addr.Is6() {
		return 0, fmt.Errorf("net64: %s is not an IPv6 address", addr)
	}
	b := addr.As16()
	var hi uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(b[i])
	}
	return Key(hi), nil
}

// KeyForNet derives the bucket key for a /64 net. Nets of any other
// length are rejected rather than silently truncated.
func KeyForNet(net netip.Prefix) (Key, error) {
	if net.Bits() != 64 {
		return 0, fmt.Errorf("%w: %s", ErrNotSlash64, net)
	}
	return KeyForAddr(net.Addr())
}

// Net reconstructs the /64 prefix this key was derived from.
func (k Key) Net() netip.Prefix {
	var b [16]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(k)
		k >>= 8
	}
	addr := netip.AddrFrom16(b)
	net, _ := addr.Prefix(64)
	return net
}

// Map maps a /64 key to a value of type V. Iteration order is unspecified.
type Map[V any] struct {
	m map[Key]V
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{m: make(map[Key]V)}
}

// Len reports the number of distinct /64 buckets held.
func (m *Map[V]) Len() int {
	return len(m.m)
}

// Get returns the value stored for key, if any.
func (m *Map[V]) Get(key Key) (V, bool) {
	v, ok := m.m[key]
	return v, ok
}

// GetAddr looks up the bucket containing addr.
func (m *Map[V]) GetAddr(addr netip.Addr) (V, bool, error) {
	key, err := KeyForAddr(addr)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := m.m[key]
	return v, ok, nil
}

// Set stores v under key, overwriting any prior value.
func (m *Map[V]) Set(key Key, v V) {
	m.m[key] = v
}

// Contains reports whether key has a bucket.
func (m *Map[V]) Contains(key Key) bool {
	_, ok := m.m[key]
	return ok
}

// ContainsNet reports whether the /64 net has a bucket.
func (m *Map[V]) ContainsNet(net netip.Prefix) (bool, error) {
	key, err := KeyForNet(net)
	if err != nil {
		return false, err
	}
	return m.Contains(key), nil
}

// InsertOrDefault returns the existing value for addr's bucket, or
// inserts and returns factory() if absent.
func (m *Map[V]) InsertOrDefault(addr netip.Addr, factory func() V) (V, error) {
	key, err := KeyForAddr(addr)
	if err != nil {
		var zero V
		return zero, err
	}
	return m.entry(key, factory), nil
}

// EntryOr returns the existing value for net's bucket, or inserts and
// returns factory() if absent. net must be a /64.
func (m *Map[V]) EntryOr(net netip.Prefix, factory func() V) (V, error) {
	key, err := KeyForNet(net)
	if err != nil {
		var zero V
		return zero, err
	}
	return m.entry(key, factory), nil
}

func (m *Map[V]) entry(key Key, factory func() V) V {
	if v, ok := m.m[key]; ok {
		return v
	}
	v := factory()
	m.m[key] = v
	return v
}

// Values iterates over every value in unspecified order.
func (m *Map[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.m {
			if !yield(v) {
				return
			}
		}
	}
}

// Entries iterates over every (key, value) pair in unspecified order.
func (m *Map[V]) Entries() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for k, v := range m.m {
			if !yield(k, v) {
				return
			}
		}
	}
}

// IntoValues drains the map, yielding only the values. The map is empty
// once the sequence is fully consumed.
func (m *Map[V]) IntoValues() iter.Seq[V] {
	return func(yield func(V) bool) {
		for k, v := range m.m {
			delete(m.m, k)
			if !yield(v) {
				return
			}
		}
	}
}

// Drain removes and yields every (key, value) pair. The map is empty once
// the sequence is fully consumed.
func (m *Map[V]) Drain() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for k, v := range m.m {
			delete(m.m, k)
			if !yield(k, v) {
				return
			}
		}
	}
}
