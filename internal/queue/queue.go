// Package queue holds the in-memory ingestion buffers between session events
// and the batch schedulers. Entries are not persisted; anything still queued
// when the process stops is lost.
package queue

import "sync"

// FIFO is an unbounded first-in first-out buffer safe for concurrent use.
type FIFO[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{}
}

// Push appends entry. It never blocks on consumers and never drops.
func (q *FIFO[T]) Push(entry T) {
	q.mu.Lock()
	q.items = append(q.items, entry)
	q.mu.Unlock()
}

// Drain removes and returns up to maxCount of the oldest entries in insertion order.
func (q *FIFO[T]) Drain(maxCount int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if maxCount < n {
		n = maxCount
	}
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	copy(out, q.items[q.head:q.head+n])

	var zero T
	for i := q.head; i < q.head+n; i++ {
		q.items[i] = zero
	}
	q.head += n

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > len(q.items)/2:
		remaining := copy(q.items, q.items[q.head:])
		clear(q.items[remaining:])
		q.items = q.items[:remaining]
		q.head = 0
	}

	return out
}

func (q *FIFO[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
