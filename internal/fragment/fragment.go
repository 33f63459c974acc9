// Package fragment implements the IP fragment reassembler described in
// spec §4.3, grounded in the teacher's BSD-Right ordered-list algorithm
// (internal/core/decoder/reassembly.go) and keyed the way the original's
// defragment.c keys buckets: (srcaddr, dstaddr, identification, protocol).
//
// Unlike the teacher's reassembler, which keeps its flow map as a plain Go
// map guarded by a mutex, buckets here live in a hashtable.Table backed by
// a memcap (spec §9's "route ALL per-entry allocation through the cap")
// and age out through a timequeue.Queue instead of a background ticker.
package fragment

import (
	"container/list"
	"encoding/binary"
	"sync"
	"time"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/hashtable"
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/anvilnet/fluxcap/internal/timequeue"
)

// Model is a fragment overlap policy.
type Model string

// ModelFirst keeps bytes already accepted and drops the overlapping
// portion of a newly arriving fragment, per spec §4.3.
const ModelFirst Model = "first"

// Limits on cumulative reassembled size, differing only by IP version per
// spec §4.3: the IPv4 datagram limit, and a larger allowance for IPv6
// jumbograms.
const (
	MaxSizeV4 = 65535
	MaxSizeV6 = 1 << 20
)

// Piece is one fragment's payload and position within a datagram.
type Piece struct {
	Offset  uint32
	Payload []byte
}

type bucket struct {
	mu            sync.Mutex
	list          list.List // of *piece, ordered by offset ascending
	highest       uint32
	current       uint32
	finalReceived bool
	allocs        []*memcap.Allocation // one per stored piece's payload bytes
}

type piece struct {
	offset  uint32
	length  uint32
	payload []byte
}

// Key identifies a fragmented datagram.
type Key struct {
	Src, Dst ipaddr.Addr
	ID       uint32
	Protocol uint8
}

func (k Key) bytes() []byte {
	src := k.Src.AsSlice()
	dst := k.Dst.AsSlice()
	buf := make([]byte, 0, len(src)+len(dst)+5)
	buf = append(buf, src...)
	buf = append(buf, dst...)
	buf = append(buf, k.Protocol)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], k.ID)
	buf = append(buf, idBuf[:]...)
	return buf
}

// Reassembler reassembles IPv4/IPv6 fragmented datagrams.
type Reassembler struct {
	table    *hashtable.Table[*bucket]
	aging    *timequeue.Queue
	cap      *memcap.Memcap
	model    Model
	maxSize4 int
	maxSize6 int
}

// Config configures a Reassembler.
type Config struct {
	Buckets  int
	AgeLimit time.Duration
	Model    Model
	Now      func() time.Time
}

// New creates a Reassembler backed by cap for per-bucket accounting.
func New(cfg Config, cap *memcap.Memcap) *Reassembler {
	model := cfg.Model
	if model == "" {
		model = ModelFirst
	}
	return &Reassembler{
		table:    hashtable.New[*bucket](cfg.Buckets, cap),
		aging:    timequeue.New(cfg.AgeLimit, cfg.Now),
		cap:      cap,
		model:    model,
		maxSize4: MaxSizeV4,
		maxSize6: MaxSizeV6,
	}
}

// Insert processes one fragment of a datagram. It returns the reassembled
// payload and true once the final fragment (MF clear) has been seen and the
// stored pieces cover [0, total); otherwise it returns nil, false. A non-nil
// error means the fragment was refused by the memcap or its datagram was
// abandoned as oversized. moreFragments indicates the IP header's MF bit;
// version must be 4 or 6.
func (r *Reassembler) Insert(key Key, version uint8, p Piece, moreFragments bool) ([]byte, bool, error) {
	keyBytes := key.bytes()

	b, ok := r.table.Get(keyBytes)
	if !ok {
		nb := &bucket{}
		if err := r.table.Insert(keyBytes, nb); err != nil {
			return nil, false, err
		}
		r.aging.Insert(string(keyBytes))
		b = nb
	} else {
		if e := r.aging.Find(string(keyBytes)); e != nil {
			r.aging.Bump(e)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	maxSize := r.maxSize4
	if version == 6 {
		maxSize = r.maxSize6
	}

	fragEnd := p.Offset + uint32(len(p.Payload))
	if int(fragEnd) > maxSize {
		r.abandon(keyBytes)
		return nil, false, fluxerr.ErrFragmentOverlap
	}

	if !moreFragments {
		b.finalReceived = true
		if fragEnd > b.highest {
			b.highest = fragEnd
		}
	}

	if err := r.insertPiece(b, p); err != nil {
		return nil, false, err
	}

	if b.finalReceived && b.current >= b.highest {
		result := r.build(b)
		r.evict(keyBytes)
		return result, true, nil
	}

	return nil, false, nil
}

// insertPiece applies the BSD-Right ("first") overlap policy: bytes
// already accepted from earlier fragments are kept; the overlapping
// portion of the new fragment is trimmed away. The trimmed bytes are
// charged to the reassembler's memcap (spec §9's "route ALL per-entry
// allocation through the cap"); a refusal here drops just this
// fragment's contribution, per spec §7, leaving the bucket intact for
// subsequent fragments.
func (r *Reassembler) insertPiece(b *bucket, p Piece) error {
	fragEnd := p.Offset + uint32(len(p.Payload))

	if fragEnd > b.highest && !b.finalReceived {
		b.highest = fragEnd
	}

	var insertBefore *list.Element
	for e := b.list.Front(); e != nil; e = e.Next() {
		existing := e.Value.(*piece)
		if existing.offset >= p.Offset {
			insertBefore = e
			break
		}
	}

	startAt := p.Offset
	if insertBefore != nil {
		if prev := insertBefore.Prev(); prev != nil {
			prevPiece := prev.Value.(*piece)
			if prevEnd := prevPiece.offset + prevPiece.length; prevEnd > startAt {
				startAt = prevEnd
			}
		}
	} else if b.list.Len() > 0 {
		lastPiece := b.list.Back().Value.(*piece)
		if lastEnd := lastPiece.offset + lastPiece.length; lastEnd > startAt {
			startAt = lastEnd
		}
	}

	endAt := fragEnd
	if insertBefore != nil {
		next := insertBefore.Value.(*piece)
		if next.offset < endAt {
			endAt = next.offset
		}
	}

	if startAt >= endAt {
		return nil
	}

	trimmed := &piece{
		offset:  startAt,
		length:  endAt - startAt,
		payload: p.Payload[startAt-p.Offset : endAt-p.Offset],
	}

	alloc, err := r.cap.Alloc(uint64(trimmed.length))
	if err != nil {
		return err
	}
	b.allocs = append(b.allocs, alloc)

	if insertBefore != nil {
		b.list.InsertBefore(trimmed, insertBefore)
	} else {
		b.list.PushBack(trimmed)
	}
	b.current += trimmed.length
	return nil
}

func (r *Reassembler) build(b *bucket) []byte {
	out := make([]byte, b.highest)
	for e := b.list.Front(); e != nil; e = e.Next() {
		p := e.Value.(*piece)
		copy(out[p.offset:p.offset+p.length], p.payload)
	}
	return out
}

// abandon drops a datagram's bucket without producing output, per spec
// §4.3's oversized-reassembly failure mode.
func (r *Reassembler) abandon(keyBytes []byte) {
	r.evict(keyBytes)
}

func (r *Reassembler) evict(keyBytes []byte) {
	if e := r.aging.Find(string(keyBytes)); e != nil {
		r.aging.Delete(e)
	}
	if b, ok := r.table.Remove(keyBytes); ok {
		r.freeBucket(b)
	}
}

// freeBucket releases every piece-payload allocation charged against a
// bucket. Called whenever a bucket leaves the table, independent of the
// hashtable's own entry-overhead charge (released by Table.Remove itself).
// Callers on the Insert path already hold b.mu; Sweep calls this after the
// bucket has been unlinked from the table, and Drain calls it while
// iterating the table just before Destroy. No separate lock is taken here.
func (r *Reassembler) freeBucket(b *bucket) {
	for _, a := range b.allocs {
		r.cap.Free(a)
	}
	b.allocs = nil
}

// Sweep expires incomplete datagrams whose deadline has passed, evicting
// their buckets, per spec §4.6.
func (r *Reassembler) Sweep(now time.Time) {
	r.aging.Sweep(now, func(key string) {
		if b, ok := r.table.Remove([]byte(key)); ok {
			r.freeBucket(b)
		}
	})
}

// Len returns the number of in-flight datagrams.
func (r *Reassembler) Len() int {
	return r.table.Len()
}

// NextDeadline reports the earliest bucket expiry, for a background
// sweeper to reset its timer against.
func (r *Reassembler) NextDeadline() (time.Time, bool) {
	return r.aging.NextDeadline()
}

// Drain abandons every in-flight datagram, for use during table teardown.
func (r *Reassembler) Drain() {
	r.table.Each(func(key []byte, b *bucket) {
		if e := r.aging.Find(string(key)); e != nil {
			r.aging.Delete(e)
		}
		r.freeBucket(b)
	})
	r.table.Destroy()
}
