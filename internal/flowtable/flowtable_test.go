package flowtable

import (
	"net/netip"
	"testing"
	"time"

	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePacket struct {
	version            uint8
	src, dst           ipaddr.Addr
	srcPort, dstPort   uint16
	protocol           uint8
	paysize            int
	flags              tcpstate.Flags
}

func (f fakePacket) Version() uint8             { return f.version }
func (f fakePacket) SrcAddr() ipaddr.Addr       { return f.src }
func (f fakePacket) DstAddr() ipaddr.Addr       { return f.dst }
func (f fakePacket) SrcPort() uint16            { return f.srcPort }
func (f fakePacket) DstPort() uint16            { return f.dstPort }
func (f fakePacket) Protocol() uint8            { return f.protocol }
func (f fakePacket) PaySize() int               { return f.paysize }
func (f fakePacket) Payload() []byte            { return nil }
func (f fakePacket) IsFragment() bool           { return false }
func (f fakePacket) TCPFlags() tcpstate.Flags   { return f.flags }
func (f fakePacket) Seq() uint32                { return 0 }
func (f fakePacket) Ack() uint32                { return 0 }
func (f fakePacket) Win() uint32                { return 0 }

func newPacket(src, dst string, srcPort, dstPort uint16, paysize int) fakePacket {
	return fakePacket{
		version:  4,
		src:      ipaddr.FromNetip(netip.MustParseAddr(src)),
		dst:      ipaddr.FromNetip(netip.MustParseAddr(dst)),
		srcPort:  srcPort,
		dstPort:  dstPort,
		protocol: 6,
		paysize:  paysize,
	}
}

// TestCanonicalizationIsSymmetric is spec §8 P2.
func TestCanonicalizationIsSymmetric(t *testing.T) {
	a := ipaddr.FromNetip(netip.MustParseAddr("10.0.0.5"))
	b := ipaddr.FromNetip(netip.MustParseAddr("10.0.0.9"))

	k1, _ := Canonicalize(4, a, b, 1000, 80, 6)
	k2, _ := Canonicalize(4, b, a, 80, 1000, 6)

	assert.Equal(t, k1.Bytes(), k2.Bytes())
}

// TestTrackAccountsOctetsAndPackets is spec §8 P1.
func TestTrackAccountsOctetsAndPackets(t *testing.T) {
	tbl := New(Config{Buckets: 16, AgeLimit: time.Minute}, memcap.New(1<<20))

	p := newPacket("10.0.0.1", "10.0.0.2", 1000, 80, 500)
	flow, _ := tbl.Track(p)
	require.NotNil(t, flow)

	flow2, _ := tbl.Track(p)
	assert.Same(t, flow, flow2)
	assert.EqualValues(t, 1000, flow.OctetCount)
	assert.EqualValues(t, 2, flow.PacketCount)
}

func TestBothDirectionsShareOneEntry(t *testing.T) {
	tbl := New(Config{Buckets: 16, AgeLimit: time.Minute}, memcap.New(1<<20))

	forward := newPacket("10.0.0.1", "10.0.0.2", 1000, 80, 100)
	reverse := newPacket("10.0.0.2", "10.0.0.1", 80, 1000, 200)

	f1, dir1 := tbl.Track(forward)
	f2, dir2 := tbl.Track(reverse)

	assert.Same(t, f1, f2)
	assert.NotEqual(t, dir1, dir2)
	assert.EqualValues(t, 300, f1.OctetCount)
	assert.EqualValues(t, 1, tbl.Len())
}

func TestSweepRemovesExpiredFlow(t *testing.T) {
	clock := time.Unix(0, 0)
	tbl := New(Config{Buckets: 16, AgeLimit: 10 * time.Second, Now: func() time.Time { return clock }}, memcap.New(1<<20))

	p := newPacket("10.0.0.1", "10.0.0.2", 1000, 80, 10)
	tbl.Track(p)
	assert.Equal(t, 1, tbl.Len())

	clock = clock.Add(20 * time.Second)
	tbl.Sweep(clock)
	assert.Equal(t, 0, tbl.Len())
}
