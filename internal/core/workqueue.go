package core

import (
	"errors"
	"iter"
	"sync"
)

// ErrConcurrentModification is yielded by WorkQueue.All when the queue
// changes while it is being iterated.
var ErrConcurrentModification = errors.New("work queue modified during iteration")

const minQueueGrowth = 4

// WorkQueue is a FIFO that refuses to hold two equal items at the same time.
// An item that has been dequeued may be enqueued again; callers that need
// "seen forever" semantics keep their own visited set.
type WorkQueue[T any] struct {
	mu      sync.Mutex
	equal   func(a, b T) bool
	buf     []T
	head    int
	count   int
	version uint64
}

func NewWorkQueue[T any](equal func(a, b T) bool) *WorkQueue[T] {
	return &WorkQueue[T]{equal: equal}
}

func NewComparableQueue[T comparable]() *WorkQueue[T] {
	return NewWorkQueue(func(a, b T) bool { return a == b })
}

// Enqueue appends item and reports true, or reports false without changing
// the queue when an equal item is already queued.
func (q *WorkQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(item) >= 0 {
		return false
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.version++
	return true
}

func (q *WorkQueue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.count == 0 {
		return zero, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.version++
	return item, true
}

func (q *WorkQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

func (q *WorkQueue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *WorkQueue[T]) Contains(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(item) >= 0
}

func (q *WorkQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.buf)
	q.head = 0
	q.count = 0
	q.version++
}

// All iterates the queued items oldest first without removing them. If the
// queue is mutated mid-iteration the sequence ends with
// ErrConcurrentModification.
func (q *WorkQueue[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		q.mu.Lock()
		start := q.version
		q.mu.Unlock()

		for i := 0; ; i++ {
			q.mu.Lock()
			if q.version != start {
				q.mu.Unlock()
				var zero T
				yield(zero, ErrConcurrentModification)
				return
			}
			if i >= q.count {
				q.mu.Unlock()
				return
			}
			item := q.buf[(q.head+i)%len(q.buf)]
			q.mu.Unlock()
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (q *WorkQueue[T]) indexOf(item T) int {
	for i := 0; i < q.count; i++ {
		if q.equal(q.buf[(q.head+i)%len(q.buf)], item) {
			return i
		}
	}
	return -1
}

func (q *WorkQueue[T]) grow() {
	capacity := len(q.buf) * 2
	if capacity < len(q.buf)+minQueueGrowth {
		capacity = len(q.buf) + minQueueGrowth
	}
	next := make([]T, capacity)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}

func (q *WorkQueue[T]) capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
