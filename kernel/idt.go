// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"sync"
	"unsafe"
)

// Handler shapes. The entry for each vector is parameterized by the
// shape the processor delivers it with, so installing, say, a handler
// without error code at the double fault vector does not compile.
type (
	Handler                     func(frame *InterruptStackFrame)
	HandlerWithErrCode          func(frame *InterruptStackFrame, code uint64)
	PageFaultHandler            func(frame *InterruptStackFrame, code PageFaultErrorCode)
	DivergingHandler            func(frame *InterruptStackFrame) Never
	DivergingHandlerWithErrCode func(frame *InterruptStackFrame, code uint64) Never
)

// HandlerShape is the closed set of handler shapes.
type HandlerShape interface {
	Handler | HandlerWithErrCode | PageFaultHandler | DivergingHandler | DivergingHandlerWithErrCode
}

// Never is the result type of diverging handlers, which must end in a
// terminating statement such as a panic or an endless loop. A diverging
// handler that returns anyway is a fatal error.
type Never struct{ _ never }

type never struct{}

// InterruptDescriptorTable is the long mode IDT. Exceptions with a fixed
// handler shape are named fields; the generic vectors are reached with
// Index. The layout is read directly by the processor and must stay 256
// consecutive 16-byte entries.
type InterruptDescriptorTable struct {
	DivideError               Entry[Handler]
	Debug                     Entry[Handler]
	NonMaskableInterrupt      Entry[Handler]
	Breakpoint                Entry[Handler]
	Overflow                  Entry[Handler]
	BoundRangeExceeded        Entry[Handler]
	InvalidOpcode             Entry[Handler]
	DeviceNotAvailable        Entry[Handler]
	DoubleFault               Entry[DivergingHandlerWithErrCode]
	coprocessorSegmentOverrun Entry[Handler]
	InvalidTSS                Entry[HandlerWithErrCode]
	SegmentNotPresent         Entry[HandlerWithErrCode]
	StackSegmentFault         Entry[HandlerWithErrCode]
	GeneralProtectionFault    Entry[HandlerWithErrCode]
	PageFault                 Entry[PageFaultHandler]
	reserved1                 Entry[Handler]
	X87FloatingPoint          Entry[Handler]
	AlignmentCheck            Entry[HandlerWithErrCode]
	MachineCheck              Entry[DivergingHandler]
	SIMDFloatingPoint         Entry[Handler]
	Virtualization            Entry[Handler]
	reserved2                 [9]Entry[Handler]
	SecurityException         Entry[HandlerWithErrCode]
	reserved3                 Entry[Handler]
	interrupts                [256 - 32]Entry[Handler]
}

// NewIDT returns a table with every entry not present. The table is
// allocated on its own so that it satisfies the 16-byte alignment the
// processor requires.
func NewIDT() *InterruptDescriptorTable {
	t := new(InterruptDescriptorTable)
	t.Clear()
	return t
}

// Clear resets every entry to not present.
func (t *InterruptDescriptorTable) Clear() {
	raw := t.raw()
	for i := range raw {
		unregisterHandler(raw[i].slot())
		raw[i] = Entry[Handler]{options: minimalOptions}
	}
}

// raw views the table as 256 untyped entries. All entry
// instantiations share one layout.
func (t *InterruptDescriptorTable) raw() *[256]Entry[Handler] {
	return (*[256]Entry[Handler])(unsafe.Pointer(t))
}

// Index returns the entry of a vector whose handler takes no error code
// and returns. Reserved vectors, vectors with error code and the
// diverging machine check vector must be reached through their named
// fields; indexing them is fatal.
func (t *InterruptDescriptorTable) Index(vector int) *Entry[Handler] {
	switch vector {
	case 0:
		return &t.DivideError
	case 1:
		return &t.Debug
	case 2:
		return &t.NonMaskableInterrupt
	case 3:
		return &t.Breakpoint
	case 4:
		return &t.Overflow
	case 5:
		return &t.BoundRangeExceeded
	case 6:
		return &t.InvalidOpcode
	case 7:
		return &t.DeviceNotAvailable
	case 9:
		return &t.coprocessorSegmentOverrun
	case 16:
		return &t.X87FloatingPoint
	case 19:
		return &t.SIMDFloatingPoint
	case 20:
		return &t.Virtualization
	case 15, 21, 22, 23, 24, 25, 26, 27, 28, 29, 31:
		panic(kernError(fmt.Sprintf("idt: entry %d is reserved", vector)))
	case 8, 10, 11, 12, 13, 14, 17, 30:
		panic(kernError(fmt.Sprintf("idt: entry %d is an exception with error code", vector)))
	case 18:
		panic(kernError(fmt.Sprintf("idt: entry %d is a diverging exception (must not return)", vector)))
	}
	if vector >= 32 && vector <= 255 {
		return &t.interrupts[vector-32]
	}
	panic(kernError(fmt.Sprintf("idt: no entry with index %d", vector)))
}

// Load installs t as the active IDT. The table is kept reachable for the
// rest of the program and must not be modified afterwards.
func (t *InterruptDescriptorTable) Load() {
	p := mustCPU()
	addr := uintptr(unsafe.Pointer(t))
	if addr%16 != 0 {
		panic(kernError("idt: table must be 16-byte aligned"))
	}
	ptr := DescriptorTablePointer{
		Base:  VirtAddr(addr),
		Limit: uint16(unsafe.Sizeof(*t) - 1),
	}
	activeTables.idt = t
	p.LoadIDT(&ptr)
}

// Entry is a 16-byte gate descriptor. F fixes the shape of handlers
// that may be installed in it.
type Entry[F HandlerShape] struct {
	_           [0]*F
	pointerLow  uint16
	selector    SegmentSelector
	options     EntryOptions
	pointerMid  uint16
	pointerHigh uint32
	reserved    uint32
}

// SetHandlerFunc installs h. See SetHandlerAddr.
func (e *Entry[F]) SetHandlerFunc(h F) *EntryOptions {
	addr := VirtAddr(handlerPC(h))
	opts := e.SetHandlerAddr(addr)
	registerHandler(e.slot(), addr, h)
	return opts
}

// SetHandlerAddr points the entry at addr, copies the current code
// segment selector from the processor and marks the entry present. The
// returned options can be adjusted further. addr must be the entry point
// of a handler of shape F.
func (e *Entry[F]) SetHandlerAddr(addr VirtAddr) *EntryOptions {
	unregisterHandler(e.slot())
	e.pointerLow = uint16(addr)
	e.pointerMid = uint16(addr >> 16)
	e.pointerHigh = uint32(addr >> 32)
	e.selector = mustCPU().CodeSegment()
	e.options.SetPresent(true)
	return &e.options
}

func (e *Entry[F]) slot() uintptr {
	return uintptr(unsafe.Pointer(e))
}

// HandlerAddr returns the installed handler address.
func (e *Entry[F]) HandlerAddr() VirtAddr {
	return VirtAddr(uint64(e.pointerLow) | uint64(e.pointerMid)<<16 | uint64(e.pointerHigh)<<32)
}

// Selector returns the code segment the handler runs in.
func (e *Entry[F]) Selector() SegmentSelector {
	return e.selector
}

// Options returns the entry options for modification.
func (e *Entry[F]) Options() *EntryOptions {
	return &e.options
}

func (e *Entry[F]) String() string {
	return fmt.Sprintf("Entry{handler_addr: %#x, gdt_selector: %v, options: %v}",
		uint64(e.HandlerAddr()), e.selector, e.options)
}

// EntryOptions are bits 32-47 of a gate descriptor.
//
//	bits 0-2:   interrupt stack index + 1 (0 keeps the current stack)
//	bits 8-11:  gate type; bit 8 set makes a trap gate that leaves
//	            interrupts enabled
//	bits 13-14: privilege level required for INT n
//	bit 15:     present
type EntryOptions uint16

// minimalOptions is a not-present interrupt gate.
const minimalOptions EntryOptions = 0b1110_0000_0000

// SetPresent sets or clears the present bit.
func (o *EntryOptions) SetPresent(present bool) *EntryOptions {
	*o = EntryOptions(setBit(uint16(*o), 15, present))
	return o
}

// DisableInterrupts selects whether interrupts are disabled while the
// handler runs.
func (o *EntryOptions) DisableInterrupts(disable bool) *EntryOptions {
	*o = EntryOptions(setBit(uint16(*o), 8, !disable))
	return o
}

// SetPrivilegeLevel sets the privilege level required to invoke the
// handler with INT n.
func (o *EntryOptions) SetPrivilegeLevel(dpl PrivilegeLevel) *EntryOptions {
	*o = EntryOptions(setBits(uint16(*o), 13, 15, uint16(dpl)))
	return o
}

// SetStackIndex makes the handler run on interrupt stack index (0-6) of
// the TSS. The caller must ensure the stack is valid and not used by
// another handler that may nest.
func (o *EntryOptions) SetStackIndex(index uint16) *EntryOptions {
	if index > 6 {
		panic(kernError("idt: stack index out of range"))
	}
	// The hardware numbers interrupt stacks from 1.
	*o = EntryOptions(setBits(uint16(*o), 0, 3, index+1))
	return o
}

func (o EntryOptions) Present() bool {
	return getBit(uint16(o), 15)
}

func (o EntryOptions) InterruptsDisabled() bool {
	return !getBit(uint16(o), 8)
}

func (o EntryOptions) PrivilegeLevel() PrivilegeLevel {
	return PrivilegeLevel(getBits(uint16(o), 13, 15))
}

// StackIndex returns the 0-based interrupt stack index, if any.
func (o EntryOptions) StackIndex() (uint16, bool) {
	hw := getBits(uint16(o), 0, 3)
	if hw == 0 {
		return 0, false
	}
	return hw - 1, true
}

func (o EntryOptions) String() string {
	return fmt.Sprintf("EntryOptions(%#04x)", uint16(o))
}

// handlers maps entries installed with SetHandlerFunc to their Go
// values for dispatch by the hosted processor. Closures share the code
// address of their function literal, so entries are keyed by their own
// address instead. Written during boot only.
var handlers struct {
	sync.RWMutex
	m map[uintptr]installedHandler
}

type installedHandler struct {
	addr VirtAddr
	h    any
}

func registerHandler(slot uintptr, addr VirtAddr, h any) {
	handlers.Lock()
	defer handlers.Unlock()
	if handlers.m == nil {
		handlers.m = make(map[uintptr]installedHandler)
	}
	handlers.m[slot] = installedHandler{addr: addr, h: h}
}

func unregisterHandler(slot uintptr) {
	handlers.Lock()
	defer handlers.Unlock()
	delete(handlers.m, slot)
}

// lookupHandler returns the Go handler installed at slot, provided the
// entry still points at it.
func lookupHandler(slot uintptr, addr VirtAddr) (any, bool) {
	handlers.RLock()
	defer handlers.RUnlock()
	ih, ok := handlers.m[slot]
	if !ok || ih.addr != addr {
		return nil, false
	}
	return ih.h, true
}

// handlerPC returns the entry point of the function h.
func handlerPC[F HandlerShape](h F) uintptr {
	fv := *(*unsafe.Pointer)(unsafe.Pointer(&h))
	if fv == nil {
		panic(kernError("idt: nil handler"))
	}
	return *(*uintptr)(fv)
}
