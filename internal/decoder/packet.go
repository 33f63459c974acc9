package decoder

import (
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
)

// packet is the concrete pkt.Packet produced by Decode.
type packet struct {
	version    uint8
	src, dst   ipaddr.Addr
	srcPort    uint16
	dstPort    uint16
	protocol   uint8
	payload    []byte
	isFragment bool

	tcpFlags tcpstate.Flags
	seq      uint32
	ack      uint32
	win      uint32

	fragID            uint32
	fragOffsetBytes   uint32
	fragMoreFragments bool
}

// FragID, FragOffset, and MoreFragments give internal/pipeline the
// fragment reassembly key and piece position that pkt.Packet's contract
// (spec §6.1, carried over verbatim) deliberately omits. Callers type-
// assert a pkt.Packet to FragmentInfo when IsFragment() is true.
func (p *packet) FragID() uint32      { return p.fragID }
func (p *packet) FragOffset() uint32  { return p.fragOffsetBytes }
func (p *packet) MoreFragments() bool { return p.fragMoreFragments }

// FragmentInfo is implemented by every pkt.Packet this package produces.
// internal/pipeline type-asserts to it when IsFragment() is true, rather
// than widening the pkt.Packet contract itself.
type FragmentInfo interface {
	FragID() uint32
	FragOffset() uint32
	MoreFragments() bool
}

func (p *packet) Version() uint8           { return p.version }
func (p *packet) SrcAddr() ipaddr.Addr     { return p.src }
func (p *packet) DstAddr() ipaddr.Addr     { return p.dst }
func (p *packet) SrcPort() uint16          { return p.srcPort }
func (p *packet) DstPort() uint16          { return p.dstPort }
func (p *packet) Protocol() uint8          { return p.protocol }
func (p *packet) PaySize() int             { return len(p.payload) }
func (p *packet) Payload() []byte          { return p.payload }
func (p *packet) IsFragment() bool         { return p.isFragment }
func (p *packet) TCPFlags() tcpstate.Flags { return p.tcpFlags }
func (p *packet) Seq() uint32              { return p.seq }
func (p *packet) Ack() uint32              { return p.ack }
func (p *packet) Win() uint32              { return p.win }
