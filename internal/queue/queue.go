// Package queue holds pending operations between the editor and the processor.
package queue

import (
	"cmp"
	"slices"
	"sync"

	"github.com/roach88/storysync/internal/op"
)

// Entry is a queued operation plus its insertion sequence number.
// Seq breaks ties between operations with equal timestamps.
type Entry struct {
	Seq int64
	Op  op.Operation
}

// Queue is an append-only, timestamped list of pending operations.
//
// Enqueue is the only way in. Drain and Requeue are reserved for the queue
// processor; no other component removes entries. Each editor session owns its
// own Queue so sessions never collide on shared state.
//
// Thread-safety: all methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq int64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		entries: make([]Entry, 0, 64),
	}
}

// Enqueue appends an operation. No dedup or validation happens here.
// Returns the entry as stored.
func (q *Queue) Enqueue(o op.Operation) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	e := Entry{Seq: q.nextSeq, Op: o}
	q.entries = append(q.entries, e)
	return e
}

// Drain removes every entry and returns them sorted oldest first:
// by timestamp ascending, ties by insertion order.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	drained := q.entries
	q.entries = make([]Entry, 0, cap(drained))
	q.mu.Unlock()

	Sort(drained)
	return drained
}

// Requeue pushes entries back at the tail, unchanged.
// Retries therefore interleave with work enqueued since the drain.
func (q *Queue) Requeue(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entries...)
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a sorted copy of the queue without removing anything.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	cp := make([]Entry, len(q.entries))
	copy(cp, q.entries)
	q.mu.Unlock()

	Sort(cp)
	return cp
}

// Sort orders entries by timestamp ascending, ties by insertion sequence.
func Sort(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(a.Op.Head().Timestamp, b.Op.Head().Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}
