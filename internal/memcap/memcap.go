// Package memcap implements the byte-budgeted allocator described in
// spec §4.2, ported from the original's memcap.c. Go's runtime allocates
// the actual memory; this package only accounts for it against a budget,
// the same way the teacher's metrics package tracks gauges rather than
// owning the resource itself.
package memcap

import (
	"sync"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
)

// headerSize mirrors memcap.c's sizeof(size_t) bookkeeping overhead charged
// against every allocation, so accounting matches the original's header
// prefix even though Go needs no literal header.
const headerSize = 8

// Allocation is a token returned by Alloc/Calloc. It must be passed to
// Free exactly once; it carries the exact charged size so Free reclaims
// precisely what Alloc charged, mirroring the original's block-prefix size.
type Allocation struct {
	size uint64
}

// Memcap is a byte budget shared by every allocation it grants.
type Memcap struct {
	mu        sync.Mutex
	budget    uint64
	allocated uint64
}

// New creates a Memcap with the given byte budget.
func New(budget uint64) *Memcap {
	return &Memcap{budget: budget}
}

// Alloc charges n bytes plus header overhead against the budget. Returns
// fluxerr.ErrAllocBudgetExceeded if the charge would exceed the budget.
func (m *Memcap) Alloc(n uint64) (*Allocation, error) {
	size := n + headerSize

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocated+size > m.budget {
		return nil, fluxerr.ErrAllocBudgetExceeded
	}
	m.allocated += size
	return &Allocation{size: size}, nil
}

// Calloc charges nmemb*size bytes plus header overhead against the budget.
func (m *Memcap) Calloc(nmemb, size uint64) (*Allocation, error) {
	return m.Alloc(nmemb * size)
}

// Free releases an allocation's charge back to the budget. Freeing the
// same allocation twice is a caller bug; memcap does not guard against it,
// matching the original's unchecked memcap_free.
func (m *Memcap) Free(a *Allocation) {
	if a == nil {
		return
	}
	m.mu.Lock()
	m.allocated -= a.size
	m.mu.Unlock()
}

// Allocated returns the currently charged byte count.
func (m *Memcap) Allocated() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated
}

// Budget returns the configured byte budget.
func (m *Memcap) Budget() uint64 {
	return m.budget
}

// Destroy reports an error if any allocation remains outstanding, matching
// memcap_destroy's refusal to tear down a non-empty cap.
func (m *Memcap) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocated > 0 {
		return fluxerr.ErrFatal
	}
	return nil
}
