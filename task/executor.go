// SPDX-License-Identifier: Unlicense OR MIT

package task

// DefaultQueueSize is the run queue capacity of NewExecutor.
const DefaultQueueSize = 100

// Processor is the part of the CPU the executor needs to sleep
// without losing wakeups.
type Processor interface {
	DisableInterrupts()
	EnableInterrupts()
	// EnableAndHalt enables interrupts and halts until the next one
	// arrives, with no window for an interrupt in between.
	EnableAndHalt()
}

// Executor runs tasks on a single core. Tasks are polled in the order
// they were spawned or woken; the core halts whenever nothing is ready.
//
// Only the run queue is shared with interrupt handlers. The task and
// waker tables belong to the goroutine calling Run.
type Executor struct {
	cpu    Processor
	tasks  map[ID]*Task
	queue  *Queue[ID]
	wakers map[ID]Waker
}

func NewExecutor(p Processor) *Executor {
	return NewExecutorSize(p, DefaultQueueSize)
}

// NewExecutorSize is like NewExecutor with a run queue of at least size
// entries.
func NewExecutorSize(p Processor, size int) *Executor {
	return &Executor{
		cpu:    p,
		tasks:  make(map[ID]*Task),
		queue:  NewQueue[ID](size),
		wakers: make(map[ID]Waker),
	}
}

// Spawn adds t to the executor and makes it runnable.
func (e *Executor) Spawn(t *Task) {
	id := t.ID()
	if _, exists := e.tasks[id]; exists {
		panic(taskError("task: task with same ID already in tasks"))
	}
	e.tasks[id] = t
	if !e.queue.Push(id) {
		panic(taskError("task: queue full"))
	}
}

// Len returns the number of tasks that have not completed.
func (e *Executor) Len() int {
	return len(e.tasks)
}

// RunReady polls every runnable task until the run queue is empty,
// including tasks woken while it runs.
func (e *Executor) RunReady() {
	for {
		id, ok := e.queue.Pop()
		if !ok {
			return
		}
		t, ok := e.tasks[id]
		if !ok {
			// Woken after completion.
			continue
		}
		w, ok := e.wakers[id]
		if !ok {
			w = &taskWaker{id: id, queue: e.queue}
			e.wakers[id] = w
		}
		if t.Poll(NewContext(w)) == Ready {
			delete(e.tasks, id)
			delete(e.wakers, id)
		}
	}
}

// SleepIfIdle halts the core if no task is runnable. Interrupts are
// disabled while the run queue is checked so that a wakeup cannot land
// between the check and the halt.
func (e *Executor) SleepIfIdle() {
	e.cpu.DisableInterrupts()
	if e.queue.Empty() {
		e.cpu.EnableAndHalt()
	} else {
		e.cpu.EnableInterrupts()
	}
}

// Run polls tasks forever.
func (e *Executor) Run() {
	for {
		e.RunReady()
		e.SleepIfIdle()
	}
}

// taskWaker requeues its task. Waking an already queued task queues it
// twice; the extra poll is harmless.
type taskWaker struct {
	id    ID
	queue *Queue[ID]
}

func (w *taskWaker) Wake() {
	if !w.queue.Push(w.id) {
		panic(taskError("task: queue full"))
	}
}
