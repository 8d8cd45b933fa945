// SPDX-License-Identifier: Unlicense OR MIT

// Package task implements cooperative tasks and the single-core
// executor that runs them on top of the interrupt infrastructure.
//
// A task wraps a Future. The executor polls it; a Future that cannot
// make progress returns Pending after arranging for the Waker in its
// Context to be called once it can, typically from an interrupt handler.
package task

import (
	"fmt"
	"sync/atomic"
)

// taskError is the value scheduling errors panic with.
type taskError string

func (e taskError) Error() string {
	return string(e)
}

// Poll is the result of polling a Future.
type Poll int

const (
	Pending Poll = iota
	Ready
)

func (p Poll) String() string {
	switch p {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("Poll(%d)", int(p))
	}
}

// Waker marks a suspended task runnable. Wake may be called from
// interrupt context, any number of times.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to the Waker interface.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Context is passed to Future.Poll.
type Context struct {
	waker Waker
}

func NewContext(w Waker) *Context {
	return &Context{waker: w}
}

// Waker returns the waker of the task being polled. A Future may keep it
// and call it later to be polled again.
func (cx *Context) Waker() Waker {
	return cx.waker
}

// Future is a resumable computation. Poll runs it until it either
// completes and returns Ready, or must wait and returns Pending. A
// Future that returned Ready must not be polled again.
type Future interface {
	Poll(cx *Context) Poll
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(cx *Context) Poll

func (f FutureFunc) Poll(cx *Context) Poll { return f(cx) }

// ID identifies a task. IDs are unique for the life of the process.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("task#%d", uint64(id))
}

// nextID is the process-wide ID counter. It starts at zero, is only
// ever incremented and never reset.
var nextID atomic.Uint64

func newID() ID {
	return ID(nextID.Add(1) - 1)
}

// Task is a unit of cooperative work.
type Task struct {
	id     ID
	future Future
}

// New returns a task running f under a fresh ID. The task holds f by
// reference for its whole life; f's address never changes, so it may
// keep pointers into itself across suspensions.
func New(f Future) *Task {
	if f == nil {
		panic(taskError("task: nil future"))
	}
	return &Task{
		id:     newID(),
		future: f,
	}
}

// ID returns the task's identifier.
func (t *Task) ID() ID {
	return t.id
}

// Poll resumes the task once.
func (t *Task) Poll(cx *Context) Poll {
	return t.future.Poll(cx)
}
