// SPDX-License-Identifier: Unlicense OR MIT

package task

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func TestByteStream(t *testing.T) {
	s := NewByteStream(4)
	w := new(countingWaker)
	cx := NewContext(w)

	if _, p := s.PollNext(cx); p != Pending {
		t.Fatalf("empty stream: %v, want Pending", p)
	}
	s.Push('a')
	s.Push('b')
	if w.n != 1 {
		t.Errorf("woken %d times, want 1", w.n)
	}
	for _, want := range []byte("ab") {
		b, p := s.PollNext(cx)
		if p != Ready || b != want {
			t.Fatalf("PollNext = %q, %v, want %q, Ready", b, p, want)
		}
	}
	if _, p := s.PollNext(cx); p != Pending {
		t.Fatalf("drained stream: %v, want Pending", p)
	}
	s.Push('c')
	if w.n != 2 {
		t.Errorf("woken %d times, want 2", w.n)
	}
}

func TestByteStreamDropsWhenFull(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	s := NewByteStream(2)
	if c := s.Cap(); c != 2 {
		t.Fatalf("Cap = %d, want 2", c)
	}
	s.Push(1)
	s.Push(2)
	s.Push(3)
	s.Push(4)
	if n := s.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	// Push runs in interrupt context and must not log.
	if logs.Len() != 0 {
		t.Fatalf("Push logged %q", logs.String())
	}
	cx := NewContext(new(countingWaker))
	for _, want := range []byte{1, 2} {
		if b, _ := s.PollNext(cx); b != want {
			t.Errorf("got %d, want %d", b, want)
		}
	}
	if got := logs.String(); !strings.Contains(got, "dropped 2 bytes") || strings.Count(got, "\n") != 1 {
		t.Errorf("drop report %q, want a single line reporting 2 bytes", got)
	}
}

func TestAtomicWaker(t *testing.T) {
	var a AtomicWaker
	// No registered waker.
	a.Wake()

	w1, w2 := new(countingWaker), new(countingWaker)
	a.Register(w1)
	a.Register(w2)
	a.Wake()
	a.Wake()
	if w1.n != 0 || w2.n != 1 {
		t.Errorf("wakes = %d, %d, want 0, 1", w1.n, w2.n)
	}
}
