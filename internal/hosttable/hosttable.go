// Package hosttable implements the host table described in spec §4.4,
// ported from the original's host.c HostData/HostKey/track_packet_host
// pattern: unlike the flow table, a host entry is keyed by a single
// address and every packet touches two entries, source and destination.
package hosttable

import (
	"sync"
	"time"

	"github.com/anvilnet/fluxcap/internal/hashtable"
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/anvilnet/fluxcap/internal/pkt"
	"github.com/anvilnet/fluxcap/internal/timequeue"
)

// Host is a host entry (spec §3): address, IP version, and directional
// packet/octet counters.
type Host struct {
	mu sync.Mutex

	Addr    ipaddr.Addr
	Version uint8

	FirstSeen time.Time
	LastSeen  time.Time

	RxPackets uint64
	RxOctets  uint64
	TxPackets uint64
	TxOctets  uint64
}

// Table wraps a hash table and a time queue keyed by address, per spec §4.4.
type Table struct {
	hash  *hashtable.Table[*Host]
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
		hash:  hashtable.New[*Host](cfg.Buckets, cap),
		aging: timequeue.New(cfg.AgeLimit, now),
		now:   now,
	}
}

func (t *Table) touch(addr ipaddr.Addr, version uint8, octets uint64, dir func(h *Host, octets uint64)) *Host {
	key := addr.AsSlice()

	host, ok := t.hash.Get(key)
	if ok {
		if e := t.aging.Find(string(key)); e != nil {
			t.aging.Bump(e)
		}
	} else {
		now := t.now()
		host = &Host{Addr: addr, Version: version, FirstSeen: now, LastSeen: now}
		if err := t.hash.Insert(key, host); err != nil {
			return nil
		}
		t.aging.Insert(string(key))
	}

	host.mu.Lock()
	dir(host, octets)
	host.LastSeen = t.now()
	host.mu.Unlock()

	return host
}

// Track implements spec §4.4's per-packet host accounting: the source
// address's tx counters grow by one packet and paysize(P) octets, and the
// destination address's rx counters grow identically. It returns the
// source and destination host entries, either of which may be nil if the
// memcap refused the allocation for a new entry.
func (t *Table) Track(p pkt.Packet) (src, dst *Host) {
	octets := uint64(p.PaySize())

	src = t.touch(p.SrcAddr(), p.Version(), octets, func(h *Host, n uint64) {
		h.TxPackets++
		h.TxOctets += n
	})
	dst = t.touch(p.DstAddr(), p.Version(), octets, func(h *Host, n uint64) {
		h.RxPackets++
		h.RxOctets += n
	})

	return src, dst
}

// Sweep expires entries whose deadline has passed, removing them from
// both the time queue and the hash table.
func (t *Table) Sweep(now time.Time) {
	t.aging.Sweep(now, func(key string) {
		t.hash.Remove([]byte(key))
	})
}

// Len returns the number of live host entries.
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
	t.hash.Each(func(key []byte, _ *Host) {
		if e := t.aging.Find(string(key)); e != nil {
			t.aging.Delete(e)
		}
	})
	t.hash.Destroy()
}
