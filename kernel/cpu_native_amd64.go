// SPDX-License-Identifier: Unlicense OR MIT

//go:build baremetal

package kernel

import "unsafe"

// NativeCPU executes the privileged instructions directly. It is only
// usable when running in ring 0.
type NativeCPU struct{}

//go:nosplit
func (NativeCPU) LoadGDT(ptr *DescriptorTablePointer) {
	// The GDT register is a 10 byte value: a 16-bit limit followed by
	// the 64-bit address.
	b := ptr.bytes()
	lgdt(uintptr(unsafe.Pointer(&b)))
}

//go:nosplit
func (NativeCPU) LoadIDT(ptr *DescriptorTablePointer) {
	b := ptr.bytes()
	lidt(uintptr(unsafe.Pointer(&b)))
}

//go:nosplit
func (NativeCPU) LoadTaskRegister(sel SegmentSelector) {
	ltr(uint16(sel))
}

//go:nosplit
func (NativeCPU) CodeSegment() SegmentSelector {
	return SegmentSelector(readCS())
}

//go:nosplit
func (NativeCPU) SetCodeSegment(sel SegmentSelector) {
	setCSReg(uint16(sel))
}

// SetDataSegments reloads SS, DS and ES. FS and GS are left alone: their
// bases hold thread-local state.
//
//go:nosplit
func (NativeCPU) SetDataSegments(sel SegmentSelector) {
	setSSReg(uint16(sel))
	setDSReg(uint16(sel))
	setESReg(uint16(sel))
}

//go:nosplit
func (NativeCPU) EnableInterrupts() { sti() }

//go:nosplit
func (NativeCPU) DisableInterrupts() { cli() }

//go:nosplit
func (NativeCPU) InterruptsEnabled() bool {
	return readFlags()&flagsIF != 0
}

//go:nosplit
func (NativeCPU) EnableAndHalt() { stiHalt() }

//go:nosplit
func (NativeCPU) Halt() { halt() }

//go:nosplit
func (NativeCPU) FaultAddress() VirtAddr {
	return VirtAddr(readCR2())
}

//go:nosplit
func (NativeCPU) Outb(port uint16, val uint8) { outb(port, val) }

//go:nosplit
func (NativeCPU) Inb(port uint16) uint8 { return inb(port) }

func lgdt(addr uintptr)
func lidt(addr uintptr)
func ltr(sel uint16)
func readCS() uint16
func setCSReg(sel uint16)
func farReturn()
func setSSReg(sel uint16)
func setDSReg(sel uint16)
func setESReg(sel uint16)
func sti()
func cli()
func stiHalt()
func halt()
func readFlags() uint64
func readCR2() uint64
func outb(port uint16, val uint8)
func inb(port uint16) uint8
