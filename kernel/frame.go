// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"strings"
)

// InterruptStackFrame is the frame pushed by the processor when an
// interrupt or exception is delivered.
type InterruptStackFrame struct {
	InstructionPointer VirtAddr
	CodeSegment        uint64
	CPUFlags           uint64
	StackPointer       VirtAddr
	StackSegment       uint64
}

func (f *InterruptStackFrame) String() string {
	return fmt.Sprintf("InterruptStackFrame{rip: %#x, cs: %#x, rflags: %#x, rsp: %#x, ss: %#x}",
		uint64(f.InstructionPointer), f.CodeSegment, f.CPUFlags, uint64(f.StackPointer), f.StackSegment)
}

// PageFaultErrorCode is the error code pushed by a page fault.
type PageFaultErrorCode uint64

const (
	// The fault was a protection violation, not a missing page.
	PageFaultProtectionViolation PageFaultErrorCode = 1 << iota
	// The access was a write.
	PageFaultCausedByWrite
	// The access happened in user mode.
	PageFaultUserMode
	// A reserved bit was set in a page table entry.
	PageFaultMalformedTable
	// The access was an instruction fetch.
	PageFaultInstructionFetch
)

func (c PageFaultErrorCode) String() string {
	names := []struct {
		bit  PageFaultErrorCode
		name string
	}{
		{PageFaultProtectionViolation, "PROTECTION_VIOLATION"},
		{PageFaultCausedByWrite, "CAUSED_BY_WRITE"},
		{PageFaultUserMode, "USER_MODE"},
		{PageFaultMalformedTable, "MALFORMED_TABLE"},
		{PageFaultInstructionFetch, "INSTRUCTION_FETCH"},
	}
	var set []string
	for _, n := range names {
		if c&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "PageFaultErrorCode(0)"
	}
	return strings.Join(set, " | ")
}
