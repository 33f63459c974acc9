// Package pkt defines the Packet contract (spec §6): the interface the
// decoder produces and the core pipeline consumes, independent of any
// particular capture or decode implementation.
package pkt

import (
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
)

// Packet is the upstream contract provided by the decoder and consumed by
// the core tables and state trackers.
type Packet interface {
	Version() uint8
	SrcAddr() ipaddr.Addr
	DstAddr() ipaddr.Addr
	SrcPort() uint16
	DstPort() uint16
	Protocol() uint8
	PaySize() int
	Payload() []byte
	IsFragment() bool

	// TCP fields, defined only when Protocol() == ProtocolTCP.
	TCPFlags() tcpstate.Flags
	Seq() uint32
	Ack() uint32
	Win() uint32
}

// IP protocol numbers the pipeline distinguishes by name.
const (
	ProtocolICMP   = 1
	ProtocolTCP    = 6
	ProtocolUDP    = 17
	ProtocolICMPv6 = 58
)
