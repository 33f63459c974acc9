package tcpstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSeqWrapSafety is spec §8 P6: lt(a, a+1) holds even at the uint32 wrap
// boundary.
func TestSeqWrapSafety(t *testing.T) {
	var a uint32 = 1<<32 - 1
	assert.True(t, LT(a, a+1))
}

// TestTwoWayHandshake is end-to-end scenario 1.
func TestTwoWayHandshake(t *testing.T) {
	a := &PCB{State: Closed}
	b := &PCB{State: Closed}

	// SYN(seq=1000, wnd=4096) from a, observed by b.
	accepted := Process(a, b, Segment{Flags: FlagSYN, Seq: 1000, Wnd: 4096, Len: 1})
	assert.True(t, accepted)
	assert.Equal(t, SynSent, a.State)
	assert.Equal(t, SynRcvd, b.State)

	// SYN-ACK(seq=5000, ack=1001, wnd=8192) from b, observed by a.
	accepted = Process(b, a, Segment{Flags: FlagSYN | FlagACK, Seq: 5000, Ack: 1001, Wnd: 8192, Len: 1})
	assert.True(t, accepted)

	// ACK(seq=1001, ack=5001) from a, observed by b.
	accepted = Process(a, b, Segment{Flags: FlagACK, Seq: 1001, Ack: 5001, Wnd: 4096})
	assert.True(t, accepted)

	assert.Equal(t, Established, a.State)
	assert.Equal(t, Established, b.State)
	assert.EqualValues(t, 1001, a.Una)
	assert.EqualValues(t, 1001, a.Nxt)
	assert.EqualValues(t, 8192, a.Wnd)
	assert.EqualValues(t, 5001, b.Una)
	assert.EqualValues(t, 5001, b.Nxt)
	assert.EqualValues(t, 4096, b.Wnd)
}

func establishedPair() (a, b *PCB) {
	a = &PCB{State: Established, Una: 1001, Nxt: 1001, Wnd: 8192, ISN: 1000}
	b = &PCB{State: Established, Una: 5001, Nxt: 5001, Wnd: 4096, ISN: 5000}
	return
}

// TestGracefulClose is end-to-end scenario 2.
func TestGracefulClose(t *testing.T) {
	a, b := establishedPair()

	// FIN(seq=1001, ack=5001) from a, observed by b.
	assert.True(t, Process(a, b, Segment{Flags: FlagFIN | FlagACK, Seq: 1001, Ack: 5001, Wnd: 8192, Len: 1}))
	assert.Equal(t, CloseWait, b.State)
	assert.Equal(t, FinWait1, a.State)

	// ACK(seq=5001, ack=1002) from b, observed by a.
	assert.True(t, Process(b, a, Segment{Flags: FlagACK, Seq: 5001, Ack: 1002, Wnd: 4096}))
	assert.Equal(t, FinWait2, a.State)

	// FIN(seq=5001, ack=1002) from b, observed by a.
	assert.True(t, Process(b, a, Segment{Flags: FlagFIN | FlagACK, Seq: 5001, Ack: 1002, Wnd: 4096, Len: 1}))
	assert.Equal(t, TimeWait, a.State)
	assert.Equal(t, LastAck, b.State)

	// ACK(seq=1002, ack=5002) from a, observed by b.
	assert.True(t, Process(a, b, Segment{Flags: FlagACK, Seq: 1002, Ack: 5002, Wnd: 8192}))
	assert.Equal(t, Closed, b.State)
	assert.Equal(t, Closed, a.State)
}

// TestRSTInWindow is end-to-end scenario 3. The RST is sent by b and
// observed by a, so a is the "rcv" PCB whose Una/Wnd bound the window.
func TestRSTInWindow(t *testing.T) {
	a, b := establishedPair()

	accepted := Process(b, a, Segment{Flags: FlagRST, Seq: a.Una + 10})
	assert.True(t, accepted)
	assert.Equal(t, Closed, a.State)
	assert.Equal(t, Closed, b.State)
}

// TestRSTOutOfWindow is end-to-end scenario 4.
func TestRSTOutOfWindow(t *testing.T) {
	a, b := establishedPair()
	aBefore, bBefore := *a, *b

	accepted := Process(b, a, Segment{Flags: FlagRST, Seq: a.Una + 10000})
	assert.False(t, accepted)
	assert.Equal(t, aBefore, *a)
	assert.Equal(t, bBefore, *b)
}

func TestSynRcvdIsInert(t *testing.T) {
	a := &PCB{State: SynSent}
	b := &PCB{State: SynRcvd, Wnd: 4096}

	accepted := Process(a, b, Segment{Flags: FlagACK, Seq: 2000, Ack: 1, Wnd: 4096})
	assert.False(t, accepted)
	assert.Equal(t, SynRcvd, b.State)
}
