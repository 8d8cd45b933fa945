// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"sync"
	"unsafe"
)

// HostedCPU models the privileged processor state inside an ordinary
// process: the interrupt flag, STI;HLT, the descriptor table registers,
// port I/O and interrupt delivery through the loaded IDT. Interrupts are
// raised from other goroutines with Interrupt and Exception and run on
// the raising goroutine, between any two steps of the interrupted code,
// just as on hardware.
//
// Handlers must not call DisableInterrupts or raise further interrupts.
// All gates behave as interrupt gates: deliveries never nest.
type HostedCPU struct {
	mu   sync.Mutex
	cond *sync.Cond

	interruptsEnabled bool
	inHandler         bool
	halted            bool
	// delivered counts completed deliveries; halts counts HLT entries.
	delivered uint64
	halts     uint64

	cs, ds, tr SegmentSelector
	gdtr, idtr DescriptorTablePointer
	cr2        VirtAddr

	ports struct {
		sync.Mutex
		in      map[uint16]uint8
		written []PortWrite
	}
}

// PortWrite records one OUT instruction.
type PortWrite struct {
	Port uint16
	Val  uint8
}

// NewHostedCPU returns a processor with interrupts disabled, running in
// the boot code segment.
func NewHostedCPU() *HostedCPU {
	c := &HostedCPU{
		cs: NewSegmentSelector(1, Ring0),
	}
	c.cond = sync.NewCond(&c.mu)
	c.ports.in = make(map[uint16]uint8)
	return c
}

func (c *HostedCPU) LoadGDT(ptr *DescriptorTablePointer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gdtr = *ptr
}

func (c *HostedCPU) LoadIDT(ptr *DescriptorTablePointer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idtr = *ptr
}

func (c *HostedCPU) LoadTaskRegister(sel SegmentSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tr = sel
}

func (c *HostedCPU) CodeSegment() SegmentSelector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cs
}

func (c *HostedCPU) SetCodeSegment(sel SegmentSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cs = sel
}

func (c *HostedCPU) SetDataSegments(sel SegmentSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ds = sel
}

// GDTR returns the operand of the last LGDT.
func (c *HostedCPU) GDTR() DescriptorTablePointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gdtr
}

// IDTR returns the operand of the last LIDT.
func (c *HostedCPU) IDTR() DescriptorTablePointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idtr
}

// TaskRegister returns the selector of the last LTR.
func (c *HostedCPU) TaskRegister() SegmentSelector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

// DataSegment returns the selector last loaded into the data segment
// registers.
func (c *HostedCPU) DataSegment() SegmentSelector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ds
}

func (c *HostedCPU) EnableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptsEnabled = true
	c.cond.Broadcast()
}

// DisableInterrupts waits for a delivery in progress to finish, like CLI
// retiring after the handler's IRETQ.
func (c *HostedCPU) DisableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inHandler {
		c.cond.Wait()
	}
	c.interruptsEnabled = false
}

func (c *HostedCPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interruptsEnabled
}

func (c *HostedCPU) EnableAndHalt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptsEnabled = true
	c.halt()
}

func (c *HostedCPU) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halt()
}

// halt blocks until the next delivery completes. With interrupts
// disabled only exceptions can end it.
func (c *HostedCPU) halt() {
	seen := c.delivered
	c.halted = true
	c.halts++
	c.cond.Broadcast()
	for c.delivered == seen {
		c.cond.Wait()
	}
	c.halted = false
}

// Halts returns the number of times the processor entered HLT.
func (c *HostedCPU) Halts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halts
}

// WaitHalted blocks until the processor has entered HLT at least n times
// and is halted.
func (c *HostedCPU) WaitHalted(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.halts < n || !c.halted {
		c.cond.Wait()
	}
}

func (c *HostedCPU) FaultAddress() VirtAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cr2
}

func (c *HostedCPU) Outb(port uint16, val uint8) {
	c.ports.Lock()
	defer c.ports.Unlock()
	c.ports.written = append(c.ports.written, PortWrite{Port: port, Val: val})
}

func (c *HostedCPU) Inb(port uint16) uint8 {
	c.ports.Lock()
	defer c.ports.Unlock()
	return c.ports.in[port]
}

// SetPort sets the value subsequent reads of port return.
func (c *HostedCPU) SetPort(port uint16, val uint8) {
	c.ports.Lock()
	defer c.ports.Unlock()
	c.ports.in[port] = val
}

// PortWrites returns the OUT instructions executed so far.
func (c *HostedCPU) PortWrites() []PortWrite {
	c.ports.Lock()
	defer c.ports.Unlock()
	return append([]PortWrite(nil), c.ports.written...)
}

// Interrupt delivers external interrupt vector. It waits until
// interrupts are enabled and no other delivery is in progress.
func (c *HostedCPU) Interrupt(vector uint8) {
	c.raise(vector, 0, false)
}

// Exception delivers processor exception vector with an error code,
// regardless of the interrupt flag.
func (c *HostedCPU) Exception(vector uint8, code uint64) {
	c.raise(vector, code, true)
}

// PageFault sets CR2 to addr and delivers a page fault.
func (c *HostedCPU) PageFault(addr VirtAddr, code PageFaultErrorCode) {
	c.mu.Lock()
	c.cr2 = addr
	c.mu.Unlock()
	c.Exception(vectorPageFault, uint64(code))
}

func (c *HostedCPU) raise(vector uint8, code uint64, exception bool) {
	c.mu.Lock()
	for c.inHandler || (!exception && !c.interruptsEnabled) {
		c.cond.Wait()
	}
	c.inHandler = true
	saved := c.interruptsEnabled
	c.interruptsEnabled = false
	frame := &InterruptStackFrame{
		CodeSegment:  uint64(c.cs),
		CPUFlags:     flagsReserved,
		StackSegment: uint64(c.ds),
	}
	if saved {
		frame.CPUFlags |= flagsIF
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.interruptsEnabled = saved
		c.inHandler = false
		c.delivered++
		c.cond.Broadcast()
		c.mu.Unlock()
	}()
	c.deliver(vector, code, frame, 0)
}

const (
	vectorDoubleFault       = 8
	vectorSegmentNotPresent = 11
	vectorPageFault         = 14

	flagsReserved = 1 << 1
	flagsIF       = 1 << 9
)

// deliver runs the handler for vector. A gate that is not present raises
// a segment-not-present fault; a fault while delivering a fault becomes a
// double fault, and a fault while delivering a double fault shuts the
// processor down.
func (c *HostedCPU) deliver(vector uint8, code uint64, frame *InterruptStackFrame, depth int) {
	t := c.loadedIDT()
	if t == nil {
		panic(kernError(fmt.Sprintf("cpu: triple fault: vector %d with no IDT loaded", vector)))
	}
	e := &t.raw()[vector]
	if !e.options.Present() {
		switch {
		case vector == vectorDoubleFault:
			panic(kernError("cpu: triple fault: double fault gate not present"))
		case depth > 0:
			c.deliver(vectorDoubleFault, 0, frame, depth+1)
		default:
			// Error code: IDT flag and the index of the faulting gate.
			c.deliver(vectorSegmentNotPresent, uint64(vector)<<3|0b10, frame, depth+1)
		}
		return
	}
	h, ok := lookupHandler(e.slot(), e.HandlerAddr())
	if !ok {
		panic(kernError(fmt.Sprintf("cpu: vector %d jumps to unknown code at %#x", vector, uint64(e.HandlerAddr()))))
	}
	frame.CodeSegment = uint64(e.selector)
	switch h := h.(type) {
	case Handler:
		h(frame)
	case HandlerWithErrCode:
		h(frame, code)
	case PageFaultHandler:
		h(frame, PageFaultErrorCode(code))
	case DivergingHandler:
		h(frame)
		panic(kernError(fmt.Sprintf("cpu: diverging handler for vector %d returned", vector)))
	case DivergingHandlerWithErrCode:
		h(frame, code)
		panic(kernError(fmt.Sprintf("cpu: diverging handler for vector %d returned", vector)))
	}
}

// loadedIDT returns the table IDTR points at.
func (c *HostedCPU) loadedIDT() *InterruptDescriptorTable {
	c.mu.Lock()
	idtr := c.idtr
	c.mu.Unlock()
	t := activeTables.idt
	if t == nil || VirtAddr(uintptr(unsafe.Pointer(t))) != idtr.Base {
		return nil
	}
	return t
}
