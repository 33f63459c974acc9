package decoder

import (
	"encoding/binary"
	"net/netip"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/pkt"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
)

// Tunnel protocol/port numbers, ported from the teacher's tunnel.go.
const (
	protocolGRE  = 47
	protocolIPIP = 4

	vxlanPort  = 4789
	genevePort = 6081

	vxlanHeaderLen  = 8
	geneveHeaderLen = 8
	greHeaderMinLen = 4

	ethernetHeaderLen = 14
	etherTypeIPv4     = 0x0800
	etherTypeIPv6     = 0x86DD
)

// decapsulate inspects an already-decoded outer packet and, if it carries
// a configured tunnel encapsulation, decodes the inner IP datagram and
// transport header by hand.
//
// gopacket's DecodingLayerParser fixes its layer chain at construction
// time; re-entering it mid-stream at an arbitrary tunnel payload offset
// would mean building a fresh parser per tunneled packet. The teacher's
// own tunnel.go already solves this with straight-line byte parsing, so
// that parsing is kept here for the inner frame instead of forcing
// gopacket into a shape it wasn't built for — the outer Ethernet through
// transport chain above still goes through gopacket.
func (d *Decoder) decapsulate(outer *packet) (*packet, bool) {
	switch {
	case outer.protocol == protocolGRE && d.tunnel.GRE:
		return decodeGRE(outer.payload)
	case outer.protocol == protocolIPIP && d.tunnel.IPIP:
		return decodeIPIP(outer.payload)
	case outer.protocol == pkt.ProtocolUDP && outer.dstPort == vxlanPort && d.tunnel.VXLAN:
		return decodeVXLAN(outer.payload)
	case outer.protocol == pkt.ProtocolUDP && outer.dstPort == genevePort && d.tunnel.Geneve:
		return decodeGeneve(outer.payload)
	default:
		return nil, false
	}
}

func decodeGRE(data []byte) (*packet, bool) {
	if len(data) < greHeaderMinLen {
		return nil, false
	}
	flags := binary.BigEndian.Uint16(data[0:2])
	protocolType := binary.BigEndian.Uint16(data[2:4])

	headerLen := greHeaderMinLen
	if flags&0x8000 != 0 {
		headerLen += 4
	}
	if flags&0x2000 != 0 {
		headerLen += 4
	}
	if flags&0x1000 != 0 {
		headerLen += 4
	}
	if len(data) < headerLen {
		return nil, false
	}
	if protocolType != etherTypeIPv4 && protocolType != etherTypeIPv6 {
		return nil, false
	}

	return decodeInnerIP(data[headerLen:])
}

func decodeIPIP(data []byte) (*packet, bool) {
	return decodeInnerIP(data)
}

func decodeVXLAN(data []byte) (*packet, bool) {
	if len(data) < vxlanHeaderLen {
		return nil, false
	}
	if data[0]&0x08 == 0 {
		return nil, false
	}
	return decodeInnerEthernet(data[vxlanHeaderLen:])
}

func decodeGeneve(data []byte) (*packet, bool) {
	if len(data) < geneveHeaderLen {
		return nil, false
	}
	if data[0]>>6 != 0 {
		return nil, false
	}
	optLen := data[0] & 0x3F
	headerLen := geneveHeaderLen + int(optLen)*4
	if len(data) < headerLen {
		return nil, false
	}
	return decodeInnerEthernet(data[headerLen:])
}

// decodeInnerEthernet skips a bare (untagged) inner Ethernet header, as
// tunnel.go's VXLAN/Geneve decapsulation assumed, and decodes the IP
// datagram that follows.
func decodeInnerEthernet(data []byte) (*packet, bool) {
	if len(data) < ethernetHeaderLen {
		return nil, false
	}
	etherType := binary.BigEndian.Uint16(data[12:14])
	if etherType != etherTypeIPv4 && etherType != etherTypeIPv6 {
		return nil, false
	}
	return decodeInnerIP(data[ethernetHeaderLen:])
}

// decodeInnerIP hand-parses an inner IPv4/IPv6 datagram plus its
// transport header, ported from the teacher's ip.go/transport.go.
func decodeInnerIP(data []byte) (*packet, bool) {
	if len(data) < 1 {
		return nil, false
	}
	version := data[0] >> 4

	var p packet
	var transportProto uint8
	var rest []byte

	switch version {
	case 4:
		const ipv4HeaderMinLen = 20
		if len(data) < ipv4HeaderMinLen {
			return nil, false
		}
		ihl := int(data[0]&0x0F) * 4
		if ihl < ipv4HeaderMinLen || len(data) < ihl {
			return nil, false
		}
		transportProto = data[9]
		src, ok1 := netip.AddrFromSlice(data[12:16])
		dst, ok2 := netip.AddrFromSlice(data[16:20])
		if !ok1 || !ok2 {
			return nil, false
		}
		p.version = 4
		p.src = ipaddr.FromNetip(src)
		p.dst = ipaddr.FromNetip(dst)

		flagsOffset := binary.BigEndian.Uint16(data[6:8])
		p.isFragment = flagsOffset&0x2000 != 0 || flagsOffset&0x1FFF != 0
		rest = data[ihl:]
	case 6:
		const ipv6HeaderLen = 40
		if len(data) < ipv6HeaderLen {
			return nil, false
		}
		transportProto = data[6]
		src, ok1 := netip.AddrFromSlice(data[8:24])
		dst, ok2 := netip.AddrFromSlice(data[24:40])
		if !ok1 || !ok2 {
			return nil, false
		}
		p.version = 6
		p.src = ipaddr.FromNetip(src)
		p.dst = ipaddr.FromNetip(dst)
		rest = data[ipv6HeaderLen:]
	default:
		return nil, false
	}

	p.protocol = transportProto
	if !parseTransport(transportProto, rest, &p) {
		return nil, false
	}

	return &p, true
}

// parseTransport hand-parses a TCP or UDP header out of rest into p,
// ported from the teacher's transport.go. Used both for tunnel inner
// frames and, via DecodeReassembled, for a completed IP fragment chain
// whose transport header gopacket never saw contiguously.
func parseTransport(protocol uint8, rest []byte, p *packet) bool {
	switch protocol {
	case pkt.ProtocolTCP:
		const tcpHeaderMinLen = 20
		if len(rest) < tcpHeaderMinLen {
			return false
		}
		p.srcPort = binary.BigEndian.Uint16(rest[0:2])
		p.dstPort = binary.BigEndian.Uint16(rest[2:4])
		p.seq = binary.BigEndian.Uint32(rest[4:8])
		p.ack = binary.BigEndian.Uint32(rest[8:12])
		p.win = uint32(binary.BigEndian.Uint16(rest[14:16]))
		dataOffset := int(rest[12]>>4) * 4
		if dataOffset < tcpHeaderMinLen || len(rest) < dataOffset {
			return false
		}
		p.tcpFlags = tcpstate.Flags(rest[13] & 0x3F)
		if rest[13]&0x40 != 0 {
			p.tcpFlags |= tcpstate.FlagECE
		}
		if rest[13]&0x80 != 0 {
			p.tcpFlags |= tcpstate.FlagCWR
		}
		p.payload = rest[dataOffset:]
	case pkt.ProtocolUDP:
		const udpHeaderLen = 8
		if len(rest) < udpHeaderLen {
			return false
		}
		p.srcPort = binary.BigEndian.Uint16(rest[0:2])
		p.dstPort = binary.BigEndian.Uint16(rest[2:4])
		p.payload = rest[udpHeaderLen:]
	default:
		p.payload = rest
	}
	return true
}

// DecodeReassembled builds the final Packet for a completed IP fragment
// chain: the reassembler hands back the concatenated datagram payload
// starting at offset 0, which begins with the transport header the first
// fragment carried, so it is parsed the same way a tunnel's inner
// transport header is.
func DecodeReassembled(version uint8, protocol uint8, src, dst ipaddr.Addr, payload []byte) (pkt.Packet, error) {
	p := &packet{version: version, protocol: protocol, src: src, dst: dst}
	if !parseTransport(protocol, payload, p) {
		return nil, fluxerr.ErrMalformedPacket
	}
	return p, nil
}
