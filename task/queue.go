// SPDX-License-Identifier: Unlicense OR MIT

package task

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Queue is a bounded lock-free FIFO queue. Push and Pop may be called
// concurrently from any number of contexts, including interrupt
// handlers that preempt a Pop in progress; neither operation blocks.
//
// The algorithm is Dmitry Vyukov's bounded MPMC queue: every slot
// carries a sequence number that tells producers and consumers whose
// turn it is.
type Queue[T any] struct {
	_    cpu.CacheLinePad
	head atomic.Uint64
	_    cpu.CacheLinePad
	tail atomic.Uint64
	_    cpu.CacheLinePad

	mask  uint64
	slots []slot[T]
}

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// NewQueue returns a queue holding at least capacity elements. The
// capacity is rounded up to a power of two.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic(taskError("task: queue capacity must be positive"))
	}
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	q := &Queue[T]{
		mask:  n - 1,
		slots: make([]slot[T], n),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Cap returns the number of elements the queue holds when full.
func (q *Queue[T]) Cap() int {
	return len(q.slots)
}

// Push appends v and reports whether there was room for it.
func (q *Queue[T]) Push(v T) bool {
	pos := q.tail.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case dif < 0:
			// The slot still holds the element from one lap ago.
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Pop removes the oldest element.
func (q *Queue[T]) Pop() (T, bool) {
	pos := q.head.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - (pos + 1)); {
		case dif == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				v := s.val
				var zero T
				s.val = zero
				s.seq.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.head.Load()
		case dif < 0:
			var zero T
			return zero, false
		default:
			pos = q.head.Load()
		}
	}
}

// Len returns the number of queued elements. The result is exact only
// when no Push or Pop runs concurrently.
func (q *Queue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Empty reports whether the queue holds no elements. See Len.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}
