// SPDX-License-Identifier: Unlicense OR MIT

package task

import (
	"log"
	"sync/atomic"
)

// ByteStream carries bytes from an interrupt handler to a task. Push
// never blocks, allocates or takes a lock, so it is safe to call from
// interrupt context.
type ByteStream struct {
	queue *Queue[byte]
	waker AtomicWaker
	// dropped counts bytes lost to a full queue since the last report.
	dropped atomic.Uint64
}

func NewByteStream(capacity int) *ByteStream {
	return &ByteStream{queue: NewQueue[byte](capacity)}
}

// Push queues b and wakes the waiting consumer. Bytes that don't fit
// are dropped and reported by the next PollNext.
func (s *ByteStream) Push(b byte) {
	if !s.queue.Push(b) {
		s.dropped.Add(1)
		return
	}
	s.waker.Wake()
}

// PollNext returns the next byte if one is queued. Otherwise it
// registers the context's waker to be woken by the next Push and
// returns Pending.
func (s *ByteStream) PollNext(cx *Context) (byte, Poll) {
	if n := s.dropped.Swap(0); n > 0 {
		log.Printf("task: scancode queue full; dropped %d bytes of input", n)
	}
	if b, ok := s.queue.Pop(); ok {
		return b, Ready
	}
	s.waker.Register(cx.Waker())
	// A Push may have happened between the Pop and Register.
	if b, ok := s.queue.Pop(); ok {
		s.waker.take()
		return b, Ready
	}
	return 0, Pending
}

// Len returns the number of queued bytes.
func (s *ByteStream) Len() int {
	return s.queue.Len()
}

// Cap returns the number of bytes the stream holds when full.
func (s *ByteStream) Cap() int {
	return s.queue.Cap()
}
