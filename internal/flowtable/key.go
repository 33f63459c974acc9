// Package flowtable implements the flow table described in spec §4.4,
// ported from the original's flow.c FlowTracker/FlowKey pattern.
//
// Per spec §9's design notes, keys here have an explicit canonical byte
// representation instead of a memcmp over a padded C struct, and every
// per-entry allocation is routed through a memcap.Memcap rather than the
// system allocator flow.c called directly.
package flowtable

import (
	"encoding/binary"

	"github.com/anvilnet/fluxcap/internal/ipaddr"
)

// Direction tells the caller which canonical endpoint ("a" or "b") sent
// the packet that produced a given Key.
type Direction int

const (
	// DirAtoB means the packet was sent by the canonical "a" endpoint.
	DirAtoB Direction = iota
	// DirBtoA means the packet was sent by the canonical "b" endpoint.
	DirBtoA
)

// Key is the canonical endpoint tuple of spec §3: addresses and ports are
// ordered so the endpoint with the numerically greater address occupies
// the "a" slot, guaranteeing both directions of a connection collide in
// the same table slot.
type Key struct {
	Version  uint8
	AAddr    ipaddr.Addr
	BAddr    ipaddr.Addr
	APort    uint16
	BPort    uint16
	Protocol uint8
}

// Canonicalize builds the canonical Key for a packet's 5-tuple and
// reports which canonical endpoint originated it.
func Canonicalize(version uint8, srcAddr, dstAddr ipaddr.Addr, srcPort, dstPort uint16, protocol uint8) (Key, Direction) {
	if ipaddr.Compare(srcAddr, dstAddr) == ipaddr.Less {
		return Key{
			Version:  version,
			AAddr:    dstAddr,
			BAddr:    srcAddr,
			APort:    dstPort,
			BPort:    srcPort,
			Protocol: protocol,
		}, DirBtoA
	}
	return Key{
		Version:  version,
		AAddr:    srcAddr,
		BAddr:    dstAddr,
		APort:    srcPort,
		BPort:    dstPort,
		Protocol: protocol,
	}, DirAtoB
}

// Bytes returns the key's canonical byte representation for use as a
// hashtable key, field-by-field rather than a raw struct memcmp.
func (k Key) Bytes() []byte {
	a := k.AAddr.AsSlice()
	b := k.BAddr.AsSlice()
	buf := make([]byte, 0, len(a)+len(b)+5)
	buf = append(buf, a...)
	buf = append(buf, b...)
	buf = append(buf, k.Protocol)
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], k.APort)
	binary.BigEndian.PutUint16(ports[2:4], k.BPort)
	return append(buf, ports[:]...)
}
