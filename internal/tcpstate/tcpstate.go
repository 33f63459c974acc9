// Package tcpstate implements the bidirectional TCP state machine described
// in spec §4.5, ported from the original's tcp-state.c. Sequence and ack
// arithmetic is modulo-2^32 signed, exactly as the original's TCP_SEQ_*
// macros defined it.
package tcpstate

// State is one of the ten TCP connection states tracked per endpoint.
type State int

const (
	Closed State = iota
	SynSent
	SynRcvd
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case SynRcvd:
		return "SYN_RCVD"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case Closing:
		return "CLOSING"
	case TimeWait:
		return "TIME_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// Flags are the TCP header control bits relevant to the state machine.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// PCB is a per-endpoint TCP control block: spec §3's isn/una/nxt/wnd plus
// the endpoint's current State.
type PCB struct {
	State State
	ISN   uint32
	Una   uint32
	Nxt   uint32
	Wnd   uint32
}

// Segment is the subset of an observed TCP segment the state machine acts
// on: flags, sequence/ack numbers, advertised window, and payload+control
// length (payload size, plus one for SYN, plus one more for FIN).
type Segment struct {
	Flags Flags
	Seq   uint32
	Ack   uint32
	Wnd   uint32
	Len   uint32
}

// seqLT, seqBetween etc. implement modulo-2^32 signed comparison: a < b is
// (int32)(a-b) < 0, exactly as TCP_SEQ_LT was defined.
func seqLT(a, b uint32) bool  { return int32(a-b) < 0 }
func seqLEQ(a, b uint32) bool { return int32(a-b) <= 0 }
func seqEQ(a, b uint32) bool  { return a == b }
func seqGEQ(a, b uint32) bool { return int32(a-b) >= 0 }

// seqBetween reports whether b <= a <= c, modulo-2^32.
func seqBetween(a, b, c uint32) bool { return seqGEQ(a, b) && seqLEQ(a, c) }

// Process implements spec §4.5's tcp_process(snd, rcv, seg): snd is the
// sending endpoint's PCB, rcv is the receiving endpoint's PCB, seg is the
// segment rcv observed. Returns true if the segment was accepted (state
// advanced or refreshed), false if it was rejected (no state change).
//
// RST handling takes precedence over every state-specific rule, per spec.
func Process(snd, rcv *PCB, seg Segment) bool {
	if seg.Flags.has(FlagRST) {
		accepted := false
		if rcv.State == SynSent {
			accepted = seg.Ack == rcv.Una+1
		} else {
			accepted = seqBetween(seg.Seq, rcv.Una+1, rcv.Una+rcv.Wnd+1)
		}

		if accepted {
			rcv.State = Closed
			snd.State = Closed
			return true
		}
		return false
	}

	switch rcv.State {
	case Closed:
		return processClosed(snd, rcv, seg)
	case SynSent:
		return processSynSent(snd, rcv, seg)
	case SynRcvd:
		// Inert: the SYN+ACK response is synthesized implicitly by the
		// CLOSED->SYN_RCVD transition storing isn, per spec §9.
		return false
	case Established:
		return processEstablished(snd, rcv, seg)
	case FinWait1:
		return processFinWait1(snd, rcv, seg)
	case FinWait2:
		return processFinWait2(snd, rcv, seg)
	case Closing:
		return processClosing(snd, rcv, seg)
	case CloseWait:
		return processCloseWait(snd, rcv, seg)
	case LastAck:
		return processLastAck(snd, rcv, seg)
	case TimeWait:
		// Terminal for statistics: any segment leaves both PCBs unchanged.
		return false
	default:
		return false
	}
}

func processClosed(snd, rcv *PCB, seg Segment) bool {
	if seg.Flags.has(FlagACK) {
		return false
	}
	if !seg.Flags.has(FlagSYN) {
		return false
	}

	snd.ISN = seg.Seq
	snd.Una = seg.Seq
	snd.Nxt = seg.Seq + seg.Len
	snd.State = SynSent

	rcv.Wnd = seg.Wnd
	rcv.State = SynRcvd

	return true
}

func processSynSent(snd, rcv *PCB, seg Segment) bool {
	if seg.Flags.has(FlagACK) {
		if !seqBetween(seg.Ack, rcv.Una, rcv.Nxt) {
			return false
		}

		if seg.Flags.has(FlagSYN) {
			if snd.State == Established {
				return false
			}
			snd.ISN = seg.Seq
			snd.Una = seg.Seq
			snd.State = SynSent
		}

		snd.Nxt = seg.Seq + seg.Len

		rcv.Una = seg.Ack
		rcv.Wnd = seg.Wnd
		rcv.State = Established

		return true
	}

	if seg.Flags.has(FlagSYN) {
		snd.ISN = seg.Seq
		snd.Una = seg.Seq
		snd.Nxt = seg.Seq + seg.Len
		snd.State = SynSent

		rcv.Wnd = seg.Wnd
		rcv.State = SynRcvd

		return true
	}

	return false
}

func processEstablished(snd, rcv *PCB, seg Segment) bool {
	if !seqBetween(seg.Seq, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if !seqBetween(seg.Seq+seg.Len, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if seg.Flags.has(FlagSYN) {
		return false
	}

	if seg.Flags.has(FlagACK) {
		if !seqBetween(seg.Ack, rcv.Una, rcv.Nxt) {
			return false
		}
		rcv.Una = seg.Ack
		rcv.Wnd = seg.Wnd
	}

	if seg.Flags.has(FlagFIN) {
		rcv.State = CloseWait
		snd.State = FinWait1
	}

	snd.Una = seg.Seq
	snd.Nxt = seg.Seq + seg.Len

	return true
}

func processFinWait1(snd, rcv *PCB, seg Segment) bool {
	if !seqBetween(seg.Seq, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if !seqBetween(seg.Seq+seg.Len, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if seg.Flags.has(FlagSYN) {
		return false
	}
	if seg.Flags.has(FlagACK) && !seqEQ(seg.Ack, rcv.Nxt) {
		return false
	}

	if seg.Flags.has(FlagFIN) {
		rcv.State = Closing
		snd.State = LastAck
	}

	if seg.Flags.has(FlagACK) {
		// Preserve the original's rcv->state++ effect explicitly: advance
		// to TIME_WAIT when FIN was also set, otherwise to FIN_WAIT_2.
		if seg.Flags.has(FlagFIN) {
			rcv.State = TimeWait
		} else {
			rcv.State = FinWait2
		}

		rcv.Una = seg.Ack
		rcv.Wnd = seg.Wnd
	}

	snd.Una = seg.Seq
	snd.Nxt = seg.Seq + seg.Len

	return true
}

func processFinWait2(snd, rcv *PCB, seg Segment) bool {
	if !seqBetween(seg.Seq, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if !seqBetween(seg.Seq+seg.Len, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if seg.Flags.has(FlagACK) && !seqEQ(seg.Ack, rcv.Nxt) {
		return false
	}
	if seg.Flags.has(FlagSYN) {
		return false
	}

	if seg.Flags.has(FlagFIN) {
		rcv.State = TimeWait
		snd.State = LastAck
	}

	snd.Una = seg.Seq
	snd.Nxt = seg.Seq + seg.Len

	rcv.Una = seg.Ack
	rcv.Wnd = seg.Wnd

	return true
}

func processClosing(snd, rcv *PCB, seg Segment) bool {
	if !seqBetween(seg.Seq, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if !seqBetween(seg.Seq+seg.Len, snd.Una, snd.Una+snd.Wnd+1) {
		return false
	}
	if seg.Flags.has(FlagSYN) {
		return false
	}
	if seg.Flags.has(FlagACK) && !seqEQ(seg.Ack, rcv.Nxt) {
		return false
	}

	snd.Una = seg.Seq
	snd.Nxt = seg.Seq + seg.Len

	rcv.State = TimeWait

	return true
}

func processCloseWait(snd, rcv *PCB, seg Segment) bool {
	if !seqEQ(seg.Seq, snd.Nxt) {
		return false
	}
	if seg.Len != 0 {
		return false
	}
	if !seg.Flags.has(FlagACK) || !seqBetween(seg.Ack, rcv.Una, rcv.Nxt) {
		return false
	}

	rcv.Una = seg.Ack
	rcv.Wnd = seg.Wnd

	return true
}

func processLastAck(snd, rcv *PCB, seg Segment) bool {
	if !seqEQ(seg.Seq, snd.Nxt) {
		return false
	}
	if seg.Flags.has(FlagACK) && !seqEQ(seg.Ack, rcv.Nxt) {
		return false
	}

	rcv.State = Closed
	snd.State = Closed

	return true
}

// LT reports whether a precedes b under modulo-2^32 signed comparison,
// exported so callers/tests can exercise the wrap-safety property (spec §8
// P6) directly.
func LT(a, b uint32) bool { return seqLT(a, b) }
