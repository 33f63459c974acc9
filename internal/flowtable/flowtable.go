package flowtable

import (
	"sync"
	"time"

	"github.com/anvilnet/fluxcap/internal/hashtable"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/anvilnet/fluxcap/internal/pkt"
	"github.com/anvilnet/fluxcap/internal/tcpstate"
	"github.com/anvilnet/fluxcap/internal/timequeue"
)

// Flow is a flow entry (spec §3): protocol version, canonicalized
// endpoints, timestamps, cumulative counters, and per-TCP-flag counters.
// Protocol is carried alongside Version per SPEC_FULL §3 (ported from the
// original's FlowTracker, which records both fields).
type Flow struct {
	mu sync.Mutex

	Key Key

	Protocol uint8

	FirstSeen time.Time
	LastSeen  time.Time

	OctetCount  uint64
	PacketCount uint64

	FinCount uint64
	SynCount uint64
	RstCount uint64
	PshCount uint64
	AckCount uint64
	UrgCount uint64
	EceCount uint64
	CwrCount uint64
}

// Table wraps a hash table and a time queue, per spec §4.4.
type Table struct {
	hash  *hashtable.Table[*Flow]
	aging *timequeue.Queue
	now   func() time.Time
}

// Config configures a Table.
type Config struct {
	Buckets  int
	AgeLimit time.Duration
	Now      func() time.Time
}

// New creates a Table backed by cap for per-entry accounting.
func New(cfg Config, cap *memcap.Memcap) *Table {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Table{
		hash:  hashtable.New[*Flow](cfg.Buckets, cap),
		aging: timequeue.New(cfg.AgeLimit, now),
		now:   now,
	}
}

// Track implements spec §4.4's five pipeline steps for one packet: build
// the canonical key, get-or-create the entry, update counters, bump the
// aging entry, and (by the caller, after Track returns) invoke Sweep.
// It returns the flow entry and the direction the packet traveled, or nil
// if the memcap refused the allocation for a new entry.
func (t *Table) Track(p pkt.Packet) (*Flow, Direction) {
	key, dir := Canonicalize(p.Version(), p.SrcAddr(), p.DstAddr(), p.SrcPort(), p.DstPort(), p.Protocol())
	keyBytes := key.Bytes()

	flow, ok := t.hash.Get(keyBytes)
	if ok {
		if e := t.aging.Find(string(keyBytes)); e != nil {
			t.aging.Bump(e)
		}
	} else {
		now := t.now()
		flow = &Flow{Key: key, Protocol: p.Protocol(), FirstSeen: now, LastSeen: now}
		if err := t.hash.Insert(keyBytes, flow); err != nil {
			return nil, dir
		}
		t.aging.Insert(string(keyBytes))
	}

	flow.mu.Lock()
	flow.OctetCount += uint64(p.PaySize())
	flow.PacketCount++
	flow.LastSeen = t.now()

	if p.Protocol() == pkt.ProtocolTCP {
		flags := p.TCPFlags()
		if flags&tcpstate.FlagFIN != 0 {
			flow.FinCount++
		}
		if flags&tcpstate.FlagSYN != 0 {
			flow.SynCount++
		}
		if flags&tcpstate.FlagRST != 0 {
			flow.RstCount++
		}
		if flags&tcpstate.FlagPSH != 0 {
			flow.PshCount++
		}
		if flags&tcpstate.FlagACK != 0 {
			flow.AckCount++
		}
		if flags&tcpstate.FlagURG != 0 {
			flow.UrgCount++
		}
		if flags&tcpstate.FlagECE != 0 {
			flow.EceCount++
		}
		if flags&tcpstate.FlagCWR != 0 {
			flow.CwrCount++
		}
	}
	flow.mu.Unlock()

	return flow, dir
}

// Sweep expires entries whose deadline has passed, removing them from
// both the time queue and the hash table.
func (t *Table) Sweep(now time.Time) {
	t.aging.Sweep(now, func(key string) {
		t.hash.Remove([]byte(key))
	})
}

// Len returns the number of live flow entries.
func (t *Table) Len() int {
	return t.hash.Len()
}

// NextDeadline reports the earliest entry expiry, for a background
// sweeper to reset its timer against.
func (t *Table) NextDeadline() (time.Time, bool) {
	return t.aging.NextDeadline()
}

// Drain removes every entry, for use during table teardown.
func (t *Table) Drain() {
	t.hash.Each(func(key []byte, _ *Flow) {
		if e := t.aging.Find(string(key)); e != nil {
			t.aging.Delete(e)
		}
	})
	t.hash.Destroy()
}
