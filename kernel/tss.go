// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import "unsafe"

// TaskStateSegment is the 64-bit TSS. Hardware task switching is not
// available in 64-bit mode, but a TSS must be defined to specify the
// privilege level and interrupt stacks. Uses uint32 words because the
// hardware layout places 64-bit fields at 4-byte offsets.
//
//	offset  0: reserved
//	offset  4: RSP0-RSP2
//	offset 28: reserved
//	offset 36: IST1-IST7
//	offset 92: reserved
//	offset 102: I/O map base
type TaskStateSegment [26]uint32

const tssSize = unsafe.Sizeof(TaskStateSegment{})

// NewTaskStateSegment returns a TSS with zeroed stacks and no I/O
// permission bitmap.
func NewTaskStateSegment() *TaskStateSegment {
	t := new(TaskStateSegment)
	t.SetIOMapBase(uint16(tssSize))
	return t
}

// SetPrivilegeStack sets the stack loaded when switching to privilege
// level idx (0-2).
//
//go:nosplit
func (t *TaskStateSegment) SetPrivilegeStack(idx int, rsp VirtAddr) {
	if idx < 0 || idx > 2 {
		panic(kernError("tss: privilege stack index out of range"))
	}
	t.set64(1+idx*2, uint64(rsp))
}

// PrivilegeStack returns the stack for privilege level idx.
func (t *TaskStateSegment) PrivilegeStack(idx int) VirtAddr {
	if idx < 0 || idx > 2 {
		panic(kernError("tss: privilege stack index out of range"))
	}
	return VirtAddr(t.get64(1 + idx*2))
}

// SetInterruptStack sets interrupt stack idx. The index is 0-based, as
// passed to EntryOptions.SetStackIndex; the hardware numbers the stacks
// IST1-IST7.
//
//go:nosplit
func (t *TaskStateSegment) SetInterruptStack(idx int, rsp VirtAddr) {
	if idx < 0 || idx > 6 {
		panic(kernError("tss: interrupt stack index out of range"))
	}
	t.set64(9+idx*2, uint64(rsp))
}

// InterruptStack returns interrupt stack idx (0-based).
func (t *TaskStateSegment) InterruptStack(idx int) VirtAddr {
	if idx < 0 || idx > 6 {
		panic(kernError("tss: interrupt stack index out of range"))
	}
	return VirtAddr(t.get64(9 + idx*2))
}

// SetIOMapBase sets the offset of the I/O permission bitmap. An offset
// at or past the TSS limit blocks all ports.
//
//go:nosplit
func (t *TaskStateSegment) SetIOMapBase(off uint16) {
	t[25] = setBits(t[25], 16, 32, uint32(off))
}

func (t *TaskStateSegment) IOMapBase() uint16 {
	return uint16(getBits(t[25], 16, 32))
}

//go:nosplit
func (t *TaskStateSegment) set64(i int, v uint64) {
	t[i] = uint32(v)
	t[i+1] = uint32(v >> 32)
}

//go:nosplit
func (t *TaskStateSegment) get64(i int) uint64 {
	return uint64(t[i+1])<<32 | uint64(t[i])
}
