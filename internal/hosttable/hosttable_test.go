package hosttable

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
	version          uint8
	src, dst         ipaddr.Addr
	srcPort, dstPort uint16
	protocol         uint8
	paysize          int
}

func (f fakePacket) Version() uint8           { return f.version }
func (f fakePacket) SrcAddr() ipaddr.Addr     { return f.src }
func (f fakePacket) DstAddr() ipaddr.Addr     { return f.dst }
func (f fakePacket) SrcPort() uint16          { return f.srcPort }
func (f fakePacket) DstPort() uint16          { return f.dstPort }
func (f fakePacket) Protocol() uint8          { return f.protocol }
func (f fakePacket) PaySize() int             { return f.paysize }
func (f fakePacket) Payload() []byte          { return nil }
func (f fakePacket) IsFragment() bool         { return false }
func (f fakePacket) TCPFlags() tcpstate.Flags { return 0 }
func (f fakePacket) Seq() uint32              { return 0 }
func (f fakePacket) Ack() uint32              { return 0 }
func (f fakePacket) Win() uint32              { return 0 }

func newPacket(src, dst string, paysize int) fakePacket {
	return fakePacket{
		version:  4,
		src:      ipaddr.FromNetip(netip.MustParseAddr(src)),
		dst:      ipaddr.FromNetip(netip.MustParseAddr(dst)),
		srcPort:  1000,
		dstPort:  80,
		protocol: 6,
		paysize:  paysize,
	}
}

func TestTrackUpdatesSourceAndDestination(t *testing.T) {
	tbl := New(Config{Buckets: 16, AgeLimit: time.Minute}, memcap.New(1<<20))

	src, dst := tbl.Track(newPacket("10.0.0.1", "10.0.0.2", 500))
	require.NotNil(t, src)
	require.NotNil(t, dst)

	assert.EqualValues(t, 1, src.TxPackets)
	assert.EqualValues(t, 500, src.TxOctets)
	assert.EqualValues(t, 0, src.RxPackets)

	assert.EqualValues(t, 1, dst.RxPackets)
	assert.EqualValues(t, 500, dst.RxOctets)
	assert.EqualValues(t, 0, dst.TxPackets)

	assert.Equal(t, 2, tbl.Len())
}

func TestTrackAccumulatesAcrossPacketsForSameHost(t *testing.T) {
	tbl := New(Config{Buckets: 16, AgeLimit: time.Minute}, memcap.New(1<<20))

	tbl.Track(newPacket("10.0.0.1", "10.0.0.2", 100))
	src, dst := tbl.Track(newPacket("10.0.0.1", "10.0.0.2", 200))

	assert.EqualValues(t, 2, src.TxPackets)
	assert.EqualValues(t, 300, src.TxOctets)
	assert.EqualValues(t, 2, dst.RxPackets)
	assert.EqualValues(t, 300, dst.RxOctets)
	assert.Equal(t, 2, tbl.Len())
}

func TestHostSeenAsBothSourceAndDestination(t *testing.T) {
	tbl := New(Config{Buckets: 16, AgeLimit: time.Minute}, memcap.New(1<<20))

	tbl.Track(newPacket("10.0.0.1", "10.0.0.2", 100))
	dst, src := tbl.Track(newPacket("10.0.0.2", "10.0.0.1", 50))

	assert.EqualValues(t, 1, dst.TxPackets)
	assert.EqualValues(t, 50, dst.TxOctets)
	assert.EqualValues(t, 1, dst.RxPackets)
	assert.EqualValues(t, 100, dst.RxOctets)

	assert.EqualValues(t, 1, src.RxPackets)
	assert.EqualValues(t, 50, src.RxOctets)
}

func TestSweepRemovesExpiredHost(t *testing.T) {
	clock := time.Unix(0, 0)
	tbl := New(Config{Buckets: 16, AgeLimit: 10 * time.Second, Now: func() time.Time { return clock }}, memcap.New(1<<20))

	tbl.Track(newPacket("10.0.0.1", "10.0.0.2", 10))
	assert.Equal(t, 2, tbl.Len())

	clock = clock.Add(20 * time.Second)
	tbl.Sweep(clock)
	assert.Equal(t, 0, tbl.Len())
}
