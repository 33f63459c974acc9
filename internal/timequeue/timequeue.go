// Package timequeue implements the aging queue described in spec §4.6,
// ported from the original's tmq (timeout queue) used by flow.c and
// host.c, using container/list the way the teacher's
// internal/core/decoder.fragmentList orders its fragments — generalized
// here to age any keyed entry instead of fragments specifically.
package timequeue

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a single (key, deadline) pair stored in the queue. The returned
// *Entry is an opaque handle; callers pass it back to Bump or Delete.
type Entry struct {
	key      string
	deadline time.Time
	elem     *list.Element
}

// Key returns the entry's key bytes.
func (e *Entry) Key() string { return e.key }

// Queue is a deadline-ordered queue of entries. Because every fresh
// Insert/Bump stamps now()+ageLimit and now() is non-decreasing, the list
// stays sorted by deadline without needing to re-sort on insert.
type Queue struct {
	mu       sync.Mutex
	ageLimit time.Duration
	list     list.List
	index    map[string]*Entry
	now      func() time.Time
}

// New creates a Queue with the given age limit. now defaults to time.Now
// if nil; tests may substitute a simulated clock.
func New(ageLimit time.Duration, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	q := &Queue{ageLimit: ageLimit, now: now, index: make(map[string]*Entry)}
	q.list.Init()
	return q
}

// Insert appends a new entry for key with deadline = now + ageLimit.
func (q *Queue) Insert(key string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.insertLocked(key)
}

func (q *Queue) insertLocked(key string) *Entry {
	e := &Entry{key: key, deadline: q.now().Add(q.ageLimit)}
	e.elem = q.list.PushBack(e)
	q.index[key] = e
	return e
}

// Find looks up the entry for key, or nil if absent.
func (q *Queue) Find(key string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index[key]
}

// Bump detaches and re-appends e with a fresh deadline, implementing LRU
// by recency of access.
func (q *Queue) Bump(e *Entry) {
	if e == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.list.Remove(e.elem)
	e.deadline = q.now().Add(q.ageLimit)
	e.elem = q.list.PushBack(e)
}

// Delete detaches e from the queue. The caller is responsible for invoking
// any associated cleanup (e.g. removing the paired hash entry).
func (q *Queue) Delete(e *Entry) {
	if e == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleteLocked(e)
}

func (q *Queue) deleteLocked(e *Entry) {
	q.list.Remove(e.elem)
	delete(q.index, e.key)
}

// Sweep walks the queue from the head while deadline <= now, detaching
// each such entry and invoking task(key) for it. task typically removes
// the paired hash table entry and frees its value.
func (q *Queue) Sweep(now time.Time, task func(key string)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		front := q.list.Front()
		if front == nil {
			return
		}
		e := front.Value.(*Entry)
		if e.deadline.After(now) {
			return
		}
		q.deleteLocked(e)

		q.mu.Unlock()
		task(e.key)
		q.mu.Lock()
	}
}

// NextDeadline returns the deadline of the queue's head entry, the next
// time a Sweep could remove something. The background sweeper mode (spec
// §5) uses this to reset its timer instead of polling.
func (q *Queue) NextDeadline() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.list.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*Entry).deadline, true
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}
