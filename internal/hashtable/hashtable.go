// Package hashtable implements the byte-keyed separate-chaining hash table
// described in spec §4.1, ported from the original's hashtable.h contract
// and hashdigest.c digest.
//
// Unlike the original, every entry's storage is charged to a memcap.Memcap
// (spec §9 "Memcap + system allocator coexistence" design note): the table
// owns values and frees their charge on remove/sweep/destroy.
package hashtable

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/anvilnet/fluxcap/internal/memcap"
)

// ErrDuplicateKey is returned by Insert when an entry with the same key
// bytes already exists.
var ErrDuplicateKey = errors.New("hashtable: duplicate key")

// entryOverhead is the fixed bucket/pointer overhead added to the key bytes
// in each entry's accounting charge, routed through the memcap the way spec §9
// requires all per-entry allocation to be.
const entryOverhead = 48

type entry[V any] struct {
	key   []byte
	value V
	alloc *memcap.Allocation
	next  *entry[V]
}

// Table is a generic byte-keyed hash table guarded by a single coarse lock,
// per spec §5's "single coarse lock per table" concurrency requirement.
type Table[V any] struct {
	mu      sync.Mutex
	buckets []*entry[V]
	seed    uint32
	cap     *memcap.Memcap
	count   int
}

// New creates a Table with the given bucket count, backed by cap for
// per-entry accounting.
func New[V any](buckets int, cap *memcap.Memcap) *Table[V] {
	if buckets <= 0 {
		buckets = 1
	}
	return &Table[V]{
		buckets: make([]*entry[V], buckets),
		seed:    randomSeed(),
		cap:     cap,
	}
}

// randomSeed mixes a per-process random value into the digest, resisting
// adversarial collisions the way the original's rand()-seeded digest_init
// attempted to, but using a real CSPRNG instead of a weak PRNG (spec §9
// Open Question: "upgrade to a keyed cryptographic hash" if adversarial
// input is a concern — this keeps FNV-1a as spec-pinned but strengthens
// the seed source).
func randomSeed() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (t *Table[V]) digest(key []byte) uint32 {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], t.seed)
	h := fnv.New32a()
	h.Write(seed[:])
	h.Write(key)
	return h.Sum32()
}

func (t *Table[V]) bucketIndex(key []byte) int {
	return int(t.digest(key) % uint32(len(t.buckets)))
}

// Insert fails if a key with the same bytes already exists, or if the
// memcap refuses the charge.
func (t *Table[V]) Insert(key []byte, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			return ErrDuplicateKey
		}
	}

	alloc, err := t.cap.Alloc(uint64(len(key)) + entryOverhead)
	if err != nil {
		return err
	}

	e := &entry[V]{key: append([]byte(nil), key...), value: value, alloc: alloc, next: t.buckets[idx]}
	t.buckets[idx] = e
	t.count++
	return nil
}

// Get returns the stored value and whether it was present.
func (t *Table[V]) Get(key []byte) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Remove detaches and returns the value stored under key, releasing its
// memcap charge. The bool result reports whether the key was present.
func (t *Table[V]) Remove(key []byte) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(key)
	var prev *entry[V]
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			t.cap.Free(e.alloc)
			return e.value, true
		}
		prev = e
	}
	var zero V
	return zero, false
}

// Len returns the number of stored entries.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Each calls fn for every stored key/value pair. Iteration order is
// implementation-defined but stable across non-mutating calls, per spec
// §4.1. fn must not mutate the table.
func (t *Table[V]) Each(fn func(key []byte, value V)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.key, e.value)
		}
	}
}

// Destroy walks all chains, releasing their memcap charges, but does not
// otherwise free values — callers must have drained any resources the
// values hold themselves, per spec §4.1's destroy contract.
func (t *Table[V]) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			t.cap.Free(e.alloc)
		}
		t.buckets[i] = nil
	}
	t.count = 0
}
