// SPDX-License-Identifier: Unlicense OR MIT

package kernel

// Processor is the privileged instruction surface used by the descriptor
// tables and the boot sequence. NativeCPU executes the real instructions
// (baremetal builds); HostedCPU models them inside an ordinary process.
type Processor interface {
	// LoadGDT executes LGDT with the given pointer.
	LoadGDT(ptr *DescriptorTablePointer)
	// LoadIDT executes LIDT with the given pointer.
	LoadIDT(ptr *DescriptorTablePointer)
	// LoadTaskRegister executes LTR.
	LoadTaskRegister(sel SegmentSelector)
	// CodeSegment returns the current CS selector.
	CodeSegment() SegmentSelector
	// SetCodeSegment reloads CS with a far return.
	SetCodeSegment(sel SegmentSelector)
	// SetDataSegments reloads SS, DS and ES.
	SetDataSegments(sel SegmentSelector)

	// EnableInterrupts executes STI.
	EnableInterrupts()
	// DisableInterrupts executes CLI.
	DisableInterrupts()
	// InterruptsEnabled reports the IF flag.
	InterruptsEnabled() bool
	// EnableAndHalt executes STI; HLT. The instruction pair is atomic
	// with respect to interrupts: an interrupt that arrives after STI
	// wakes the HLT instead of being handled before it.
	EnableAndHalt()
	// Halt executes HLT without touching IF.
	Halt()

	// FaultAddress returns CR2, the address of the last page fault.
	FaultAddress() VirtAddr

	Outb(port uint16, val uint8)
	Inb(port uint16) uint8
}

// cpu is the processor the tables are installed on. It is set once by
// Init before any table is built and never changed afterwards.
var cpu Processor

//go:nosplit
func mustCPU() Processor {
	if cpu == nil {
		panic(kernError("kernel: no processor; call Init first"))
	}
	return cpu
}

// HaltLoop halts the processor forever.
func HaltLoop() {
	p := mustCPU()
	for {
		p.Halt()
	}
}

// activeTables keeps the loaded tables reachable for the rest of the
// program. The processor reads them by address, so they must never be
// collected.
var activeTables struct {
	gdt *GlobalDescriptorTable
	idt *InterruptDescriptorTable
}
