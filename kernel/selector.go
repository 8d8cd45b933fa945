// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"encoding/binary"
	"fmt"
)

// kernError is an error type usable in kernel code. Configuration
// errors are raised by panicking with a kernError.
type kernError string

func (k kernError) Error() string {
	return string(k)
}

// PrivilegeLevel is a hardware protection ring.
type PrivilegeLevel uint8

const (
	Ring0 PrivilegeLevel = 0
	Ring1 PrivilegeLevel = 1
	Ring2 PrivilegeLevel = 2
	Ring3 PrivilegeLevel = 3
)

func (p PrivilegeLevel) String() string {
	if p > Ring3 {
		return fmt.Sprintf("PrivilegeLevel(%d)", uint8(p))
	}
	return fmt.Sprintf("Ring%d", uint8(p))
}

// SegmentSelector indexes the segment descriptor table. Bits 0-1 hold
// the requested privilege level, bit 2 the table indicator (always 0 for
// the GDT) and bits 3-15 the descriptor index.
type SegmentSelector uint16

// NewSegmentSelector returns the GDT selector for index with the
// requested privilege level rpl.
func NewSegmentSelector(index uint16, rpl PrivilegeLevel) SegmentSelector {
	if index > 0x1fff {
		panic(kernError("selector: index out of range"))
	}
	if rpl > Ring3 {
		panic(kernError("selector: invalid privilege level"))
	}
	return SegmentSelector(index<<3 | uint16(rpl))
}

// Index returns the descriptor index of the selector.
func (s SegmentSelector) Index() uint16 {
	return uint16(s) >> 3
}

// RPL returns the requested privilege level of the selector.
func (s SegmentSelector) RPL() PrivilegeLevel {
	return PrivilegeLevel(getBits(uint16(s), 0, 2))
}

func (s SegmentSelector) String() string {
	return fmt.Sprintf("SegmentSelector{index: %d, rpl: %v}", s.Index(), s.RPL())
}

// VirtAddr is a canonical 64-bit virtual address: bits 48-63 are copies
// of bit 47.
type VirtAddr uint64

// NewVirtAddr returns addr as a VirtAddr. It panics if addr is not
// canonical.
func NewVirtAddr(addr uint64) VirtAddr {
	v, ok := tryVirtAddr(addr)
	if !ok {
		panic(kernError(fmt.Sprintf("address %#x is not canonical", addr)))
	}
	return v
}

func tryVirtAddr(addr uint64) (VirtAddr, bool) {
	switch getBits(addr, 47, 64) {
	case 0, 0x1ffff:
		return VirtAddr(addr), true
	default:
		return 0, false
	}
}

func (v VirtAddr) String() string {
	return fmt.Sprintf("VirtAddr(%#x)", uint64(v))
}

// DescriptorTablePointer is the operand of the LGDT and LIDT
// instructions: the address of the first descriptor and the size of the
// table in bytes, minus one.
type DescriptorTablePointer struct {
	Limit uint16
	Base  VirtAddr
}

// bytes returns the 10 byte in-memory form of the pointer: a 16-bit limit
// followed by the 64-bit address.
func (p DescriptorTablePointer) bytes() [10]byte {
	var b [10]byte
	binary.LittleEndian.PutUint16(b[:2], p.Limit)
	binary.LittleEndian.PutUint64(b[2:], uint64(p.Base))
	return b
}
