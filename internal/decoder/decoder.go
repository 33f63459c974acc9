// Package decoder turns captured frames into pkt.Packet values, adapted
// from the teacher's internal/core/decoder (byte-offset parsing of
// Ethernet/IP/transport headers) and internal/otus/module/capture/codec
// (gopacket.DecodingLayerParser usage), combined: the outer Ethernet
// through transport chain is decoded with gopacket/layers, while tunnel
// decapsulation keeps the teacher's manual byte parsing for the inner
// frame (see decapsulate for why).
package decoder

import (
	"net/netip"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/pkt"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TunnelConfig toggles which tunnel encapsulations are decapsulated
// transparently before a Packet is constructed, per spec §4.7 — the
// teacher's config-toggle shape over tunnel.go, generalized to fluxcap's
// Packet contract which has no tunnel concept of its own.
type TunnelConfig struct {
	VXLAN  bool
	GRE    bool
	Geneve bool
	IPIP   bool
}

// Decoder decodes one frame at a time. It is not safe for concurrent use;
// callers run one Decoder per capture worker goroutine, the same pattern
// the teacher's codec.Decoder follows.
type Decoder struct {
	tunnel TunnelConfig

	parser *gopacket.DecodingLayerParser
	eth    layers.Ethernet
	dot1q  layers.Dot1Q
	ip4    layers.IPv4
	ip6    layers.IPv6
	ip6frg layers.IPv6Fragment
	tcp    layers.TCP
	udp    layers.UDP
}

// New creates a Decoder with tunnel decapsulation configured per cfg.
func New(cfg TunnelConfig) *Decoder {
	d := &Decoder{tunnel: cfg}
	d.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&d.eth, &d.dot1q, &d.ip4, &d.ip6, &d.ip6frg, &d.tcp, &d.udp,
	)
	return d
}

// Decode decodes a single captured frame into a pkt.Packet. It returns
// fluxerr.ErrMalformedPacket if the frame could not be decoded far enough
// to produce a usable IP datagram.
func (d *Decoder) Decode(data []byte) (pkt.Packet, error) {
	decoded := make([]gopacket.LayerType, 0, 8)
	if err := d.parser.DecodeLayers(data, &decoded); err != nil {
		if !hasIPLayer(decoded) {
			return nil, fluxerr.ErrMalformedPacket
		}
	}

	p := &packet{}
	haveIP := false
	isFragV6 := false

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			p.version = 4
			p.protocol = uint8(d.ip4.Protocol)
			p.src = addrFromIP(d.ip4.SrcIP)
			p.dst = addrFromIP(d.ip4.DstIP)
			p.isFragment = d.ip4.Flags&layers.IPv4MoreFragments != 0 || d.ip4.FragOffset != 0
			if p.isFragment {
				p.fragID = uint32(d.ip4.Id)
				p.fragOffsetBytes = uint32(d.ip4.FragOffset) * 8
				p.fragMoreFragments = d.ip4.Flags&layers.IPv4MoreFragments != 0
			}
			haveIP = true
		case layers.LayerTypeIPv6:
			p.version = 6
			p.protocol = uint8(d.ip6.NextHeader)
			p.src = addrFromIP(d.ip6.SrcIP)
			p.dst = addrFromIP(d.ip6.DstIP)
			haveIP = true
		case layers.LayerTypeIPv6Fragment:
			isFragV6 = true
			p.protocol = uint8(d.ip6frg.NextHeader)
			p.fragID = d.ip6frg.Identification
			p.fragOffsetBytes = uint32(d.ip6frg.FragmentOffset) * 8
			p.fragMoreFragments = d.ip6frg.MoreFragments
		case layers.LayerTypeTCP:
			p.protocol = pkt.ProtocolTCP
			p.srcPort = uint16(d.tcp.SrcPort)
			p.dstPort = uint16(d.tcp.DstPort)
			p.payload = d.tcp.Payload
			p.seq = d.tcp.Seq
			p.ack = d.tcp.Ack
			p.win = uint32(d.tcp.Window)
			p.tcpFlags = tcpFlagsFromLayer(&d.tcp)
		case layers.LayerTypeUDP:
			p.protocol = pkt.ProtocolUDP
			p.srcPort = uint16(d.udp.SrcPort)
			p.dstPort = uint16(d.udp.DstPort)
			p.payload = d.udp.Payload
		}
	}
	p.isFragment = p.isFragment || isFragV6

	if !haveIP {
		return nil, fluxerr.ErrMalformedPacket
	}

	if p.isFragment {
		// A non-initial fragment's "transport header" is whatever
		// gopacket's fixed layer chain tried to decode from raw
		// continuation bytes, which is meaningless. What the
		// reassembler needs from every fragment, first or not, is the
		// raw bytes following the IP (or IPv6 fragment) header; the
		// real transport header is recovered once by
		// DecodeReassembled, from the completed datagram.
		if p.version == 4 {
			p.payload = d.ip4.Payload
		} else {
			p.payload = d.ip6frg.Payload
		}
		p.srcPort, p.dstPort = 0, 0
		p.tcpFlags, p.seq, p.ack, p.win = 0, 0, 0, 0
	}

	if inner, ok := d.decapsulate(p); ok {
		return inner, nil
	}

	return p, nil
}

func hasIPLayer(decoded []gopacket.LayerType) bool {
	for _, lt := range decoded {
		if lt == layers.LayerTypeIPv4 || lt == layers.LayerTypeIPv6 {
			return true
		}
	}
	return false
}

func addrFromIP(ip []byte) ipaddr.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	return ipaddr.FromNetip(addr)
}

func tcpFlagsFromLayer(tcp *layers.TCP) tcpstate.Flags {
	var f tcpstate.Flags
	if tcp.FIN {
		f |= tcpstate.FlagFIN
	}
	if tcp.SYN {
		f |= tcpstate.FlagSYN
	}
	if tcp.RST {
		f |= tcpstate.FlagRST
	}
	if tcp.PSH {
		f |= tcpstate.FlagPSH
	}
	if tcp.ACK {
		f |= tcpstate.FlagACK
	}
	if tcp.URG {
		f |= tcpstate.FlagURG
	}
	if tcp.ECE {
		f |= tcpstate.FlagECE
	}
	if tcp.CWR {
		f |= tcpstate.FlagCWR
	}
	return f
}
