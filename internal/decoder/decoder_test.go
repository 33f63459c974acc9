package decoder

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTCPFrame(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       1,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1000,
		Ack:     2000,
		Window:  8192,
		SYN:     true,
		ACK:     true,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildFragmentedIPv4Frame(t *testing.T, srcIP, dstIP net.IP, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:    4,
		IHL:        5,
		Id:         42,
		TTL:        64,
		Protocol:   layers.IPProtocolUDP,
		Flags:      layers.IPv4MoreFragments,
		FragOffset: 0,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestDecodeTCPFrame(t *testing.T) {
	d := New(TunnelConfig{})
	payload := []byte("hello")
	frame := buildTCPFrame(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 4000, 80, payload)

	p, err := d.Decode(frame)
	require.NoError(t, err)

	assert.EqualValues(t, 4, p.Version())
	assert.Equal(t, "10.0.0.1", p.SrcAddr().String())
	assert.Equal(t, "10.0.0.2", p.DstAddr().String())
	assert.EqualValues(t, 4000, p.SrcPort())
	assert.EqualValues(t, 80, p.DstPort())
	assert.EqualValues(t, 6, p.Protocol())
	assert.Equal(t, payload, p.Payload())
	assert.False(t, p.IsFragment())
	assert.EqualValues(t, 1000, p.Seq())
	assert.EqualValues(t, 2000, p.Ack())
}

func TestDecodeFragmentedIPv4(t *testing.T) {
	d := New(TunnelConfig{})
	frame := buildFragmentedIPv4Frame(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), []byte("fragment-payload"))

	p, err := d.Decode(frame)
	require.NoError(t, err)
	assert.True(t, p.IsFragment())
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	d := New(TunnelConfig{})
	_, err := d.Decode([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}
