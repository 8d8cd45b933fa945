// SPDX-License-Identifier: Unlicense OR MIT

package task

import "sync/atomic"

// AtomicWaker holds the waker of a single consumer that waits for
// events produced in interrupt context. Register and Wake never block.
type AtomicWaker struct {
	w atomic.Pointer[wakerBox]
}

type wakerBox struct {
	Waker
}

// Register stores w, replacing any previous waker.
func (a *AtomicWaker) Register(w Waker) {
	a.w.Store(&wakerBox{w})
}

// Wake takes the registered waker, if any, and calls it. A waker is
// woken at most once per registration.
func (a *AtomicWaker) Wake() {
	if b := a.w.Swap(nil); b != nil {
		b.Wake()
	}
}

// take removes the registered waker without waking it.
func (a *AtomicWaker) take() {
	a.w.Swap(nil)
}
