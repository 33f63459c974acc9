// Package ipaddr provides the tagged, totally-ordered IP address value used
// throughout fluxcap's core tables, grounded on the teacher's use of
// net/netip in internal/core/decoder.
package ipaddr

import "net/netip"

// Ordering is the result of comparing two addresses.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Addr wraps netip.Addr. No ecosystem library in the retrieval pack improves
// on the stdlib representation for a fixed-size, comparable IP value, so
// this package is a thin, documented layer over net/netip rather than a
// reimplementation.
type Addr struct {
	netip.Addr
}

// FromNetip adapts a netip.Addr into the tagged Addr value.
func FromNetip(a netip.Addr) Addr {
	return Addr{a}
}

// Version returns 4 or 6, or 0 for an invalid address.
func (a Addr) Version() uint8 {
	switch {
	case a.Is4():
		return 4
	case a.Is6():
		return 6
	default:
		return 0
	}
}

// Compare returns the total order over IP addresses required by the
// ip_compare contract: family first, then raw bytes in network order.
func Compare(a, b Addr) Ordering {
	av, bv := a.Version(), b.Version()
	if av != bv {
		if av < bv {
			return Less
		}
		return Greater
	}

	abytes := a.AsSlice()
	bbytes := b.AsSlice()
	for i := range abytes {
		if abytes[i] != bbytes[i] {
			if abytes[i] < bbytes[i] {
				return Less
			}
			return Greater
		}
	}
	return Equal
}
