// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"eliasnaur.com/kcore/pic"
	"eliasnaur.com/kcore/task"
)

const (
	// DoubleFaultISTIndex is the interrupt stack table slot the double
	// fault handler runs on, so that a kernel stack overflow can still
	// be reported.
	DoubleFaultISTIndex = 0

	InterruptTimer    = pic.PrimaryOffset
	InterruptKeyboard = pic.PrimaryOffset + 1

	// Only the timer (IRQ 0) and keyboard (IRQ 1) lines are unmasked.
	primaryMask   = ^uint8(1<<0 | 1<<1)
	secondaryMask = 0xff

	pageSize = 1 << 12

	keyboardDataPort  = 0x60
	scancodeQueueSize = 100
)

type stack [5 * pageSize]byte

var (
	globalTSS *TaskStateSegment
	globalGDT *GlobalDescriptorTable
	globalIDT *InterruptDescriptorTable

	// Selectors of the boot GDT.
	selectors struct {
		code, data, tss SegmentSelector
	}

	doubleFaultStack stack

	// pics is locked for the short sequences of port writes only.
	pics struct {
		sync.Mutex
		chained *pic.Chained
	}

	// Handlers only count events; they run with interrupts disabled and
	// must not take locks a task may hold.
	ticks       atomic.Uint64
	breakpoints atomic.Uint64
	scancodes   atomic.Pointer[task.ByteStream]

	booted atomic.Bool
)

// Init brings up the processor tables on p: the GDT with kernel code,
// kernel data and TSS descriptors, the IDT with the default exception
// and device handlers, and the interrupt controllers. Interrupts are
// enabled on return. Init must be called exactly once, before anything
// else in this package.
func Init(p Processor) {
	if !booted.CompareAndSwap(false, true) {
		panic(kernError("kernel: Init called twice"))
	}
	cpu = p

	initGDT()
	initIDT()

	scancodes.Store(task.NewByteStream(scancodeQueueSize))
	pics.Lock()
	pics.chained = pic.New(p, pic.PrimaryOffset, pic.SecondaryOffset)
	pics.chained.Initialize()
	pics.chained.SetMasks(primaryMask, secondaryMask)
	pics.Unlock()

	p.EnableInterrupts()
}

func initGDT() {
	globalTSS = NewTaskStateSegment()
	globalTSS.SetInterruptStack(DoubleFaultISTIndex, doubleFaultStack.top())

	globalGDT = NewGDT()
	selectors.code = globalGDT.AddEntry(KernelCodeSegment())
	selectors.data = globalGDT.AddEntry(KernelDataSegment())
	selectors.tss = globalGDT.AddEntry(TSSSegment(globalTSS))
	globalGDT.Load()

	cpu.SetCodeSegment(selectors.code)
	cpu.SetDataSegments(selectors.data)
	cpu.LoadTaskRegister(selectors.tss)
}

func initIDT() {
	t := NewIDT()
	t.Breakpoint.SetHandlerFunc(breakpointHandler)
	t.DoubleFault.SetHandlerFunc(doubleFaultHandler).
		SetStackIndex(DoubleFaultISTIndex)
	t.PageFault.SetHandlerFunc(pageFaultHandler)
	t.GeneralProtectionFault.SetHandlerFunc(generalProtectionHandler)
	t.Index(InterruptTimer).SetHandlerFunc(timerHandler)
	t.Index(InterruptKeyboard).SetHandlerFunc(keyboardHandler)
	globalIDT = t
	t.Load()
}

func breakpointHandler(frame *InterruptStackFrame) {
	breakpoints.Add(1)
}

func doubleFaultHandler(frame *InterruptStackFrame, code uint64) Never {
	panic(kernError(fmt.Sprintf("EXCEPTION: DOUBLE FAULT\n%v", frame)))
}

func pageFaultHandler(frame *InterruptStackFrame, code PageFaultErrorCode) {
	panic(kernError(fmt.Sprintf("EXCEPTION: PAGE FAULT\nAccessed Address: %v\nError Code: %v\n%v",
		cpu.FaultAddress(), code, frame)))
}

func generalProtectionHandler(frame *InterruptStackFrame, code uint64) {
	panic(kernError(fmt.Sprintf("EXCEPTION: GENERAL PROTECTION FAULT (selector %#x)\n%v", code, frame)))
}

func timerHandler(frame *InterruptStackFrame) {
	ticks.Add(1)
	endOfInterrupt(InterruptTimer)
}

func keyboardHandler(frame *InterruptStackFrame) {
	sc := cpu.Inb(keyboardDataPort)
	// The stream exists before interrupts are enabled.
	scancodes.Load().Push(sc)
	endOfInterrupt(InterruptKeyboard)
}

func endOfInterrupt(vector uint8) {
	pics.Lock()
	defer pics.Unlock()
	pics.chained.NotifyEndOfInterrupt(vector)
}

// Ticks returns the number of timer interrupts since Init.
func Ticks() uint64 {
	return ticks.Load()
}

// Breakpoints returns the number of breakpoint exceptions since Init.
func Breakpoints() uint64 {
	return breakpoints.Load()
}

// ScancodeStream returns the stream the keyboard interrupt handler
// feeds with the scancodes it reads. It is nil before Init.
func ScancodeStream() *task.ByteStream {
	return scancodes.Load()
}

// top returns the 16-byte aligned address just past the stack.
func (s *stack) top() VirtAddr {
	stackTop := uintptr(unsafe.Pointer(&s[0])) + unsafe.Sizeof(*s)
	stackTop = stackTop &^ 0xf
	return VirtAddr(stackTop)
}
