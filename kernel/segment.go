// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"unsafe"
)

// Types and code for setting up processor segments. Segmentation is
// largely disabled in 64-bit mode, but a GDT with code and data segments
// and a TSS descriptor is nevertheless required.

// DescriptorFlags are the bits of a user segment descriptor. Not all
// flags are valid for all descriptor types.
type DescriptorFlags uint64

const (
	// Set by the processor on first access. Setting it in software
	// avoids a GDT write on first use.
	FlagAccessed DescriptorFlags = 1 << 40
	// Readable for code segments, writable for data segments. Ignored
	// in 64-bit mode.
	FlagWritable DescriptorFlags = 1 << 41
	// Conforming for code segments, expand-down for data segments.
	FlagConforming DescriptorFlags = 1 << 42
	// Set for code segments, clear for data segments.
	FlagExecutable DescriptorFlags = 1 << 43
	// Set for user (code and data) segments, clear for system segments.
	FlagUserSegment DescriptorFlags = 1 << 44
	// Descriptor privilege level 3.
	FlagDPLRing3 DescriptorFlags = 3 << 45
	// Must be set for every valid segment.
	FlagPresent DescriptorFlags = 1 << 47
	// Available for software use.
	FlagAvailable DescriptorFlags = 1 << 52
	// Set for 64-bit code segments.
	FlagLongMode DescriptorFlags = 1 << 53
	// 32-bit operands. Must be clear if FlagLongMode is set.
	FlagDefaultSize DescriptorFlags = 1 << 54
	// Scale the limit by 4096 bytes.
	FlagGranularity DescriptorFlags = 1 << 55

	FlagLimit0to15  DescriptorFlags = 0xffff
	FlagLimit16to19 DescriptorFlags = 0xf << 48
	FlagBase0to23   DescriptorFlags = 0xff_ffff << 16
	FlagBase24to31  DescriptorFlags = 0xff << 56
)

const (
	flagsCommon = FlagUserSegment | FlagPresent | FlagWritable | FlagAccessed |
		FlagLimit0to15 | FlagLimit16to19 | FlagGranularity

	KernelData   = flagsCommon | FlagDefaultSize
	KernelCode32 = flagsCommon | FlagExecutable | FlagDefaultSize
	KernelCode64 = flagsCommon | FlagExecutable | FlagLongMode
	UserData     = KernelData | FlagDPLRing3
	UserCode32   = KernelCode32 | FlagDPLRing3
	UserCode64   = KernelCode64 | FlagDPLRing3
)

// Descriptor is a segment descriptor: either a one-word user segment or
// a two-word system segment.
type Descriptor struct {
	system    bool
	low, high uint64
	// tss is kept reachable for as long as the descriptor is.
	tss *TaskStateSegment
}

// UserSegment returns a code or data segment descriptor.
func UserSegment(flags DescriptorFlags) Descriptor {
	return Descriptor{low: uint64(flags)}
}

// SystemSegment returns a 16-byte system segment descriptor.
func SystemSegment(low, high uint64) Descriptor {
	return Descriptor{system: true, low: low, high: high}
}

func KernelCodeSegment() Descriptor { return UserSegment(KernelCode64) }
func KernelDataSegment() Descriptor { return UserSegment(KernelData) }
func UserCodeSegment() Descriptor   { return UserSegment(UserCode64) }
func UserDataSegment() Descriptor   { return UserSegment(UserData) }

// TSSSegment returns the system segment descriptor for tss. The TSS is
// read by the processor for the rest of the program; the descriptor and
// any table it is added to keep it reachable.
func TSSSegment(tss *TaskStateSegment) Descriptor {
	d := tssDescriptor(uint64(uintptr(unsafe.Pointer(tss))))
	d.tss = tss
	return d
}

func tssDescriptor(addr uint64) Descriptor {
	low := uint64(FlagPresent)
	low = setBits(low, 16, 40, getBits(addr, 0, 24))
	low = setBits(low, 56, 64, getBits(addr, 24, 32))
	// The limit is inclusive.
	low = setBits(low, 0, 16, uint64(tssSize-1))
	// Available 64-bit TSS.
	low = setBits(low, 40, 44, 0b1001)
	high := getBits(addr, 32, 64)
	return SystemSegment(low, high)
}

// IsSystem reports whether d is a two-word system segment.
func (d Descriptor) IsSystem() bool {
	return d.system
}

// Words returns the descriptor words in table order.
func (d Descriptor) Words() []uint64 {
	if d.system {
		return []uint64{d.low, d.high}
	}
	return []uint64{d.low}
}

// gdtCapacity is the number of 64-bit words in a GlobalDescriptorTable,
// including the mandatory null descriptor.
const gdtCapacity = 8

// GlobalDescriptorTable is a long mode GDT. Slot 0 is the null
// descriptor. The table must not be modified after Load.
type GlobalDescriptorTable struct {
	table    [gdtCapacity]uint64
	nextFree int

	loaded bool
	tss    []*TaskStateSegment
}

// NewGDT returns a table holding only the null descriptor.
func NewGDT() *GlobalDescriptorTable {
	return &GlobalDescriptorTable{nextFree: 1}
}

// GDTFromRaw returns a table holding the given words. words[0] should
// be the null descriptor.
func GDTFromRaw(words []uint64) *GlobalDescriptorTable {
	if len(words) > gdtCapacity {
		panic(kernError("gdt: a raw table holds at most 8 words"))
	}
	g := &GlobalDescriptorTable{nextFree: len(words)}
	copy(g.table[:], words)
	return g
}

// Raw returns the used words of the table.
func (g *GlobalDescriptorTable) Raw() []uint64 {
	return g.table[:g.nextFree]
}

// AddEntry appends d and returns its selector. User segments with DPL 3
// get a ring 3 selector; everything else resolves to ring 0. Adding past
// the table capacity is fatal.
func (g *GlobalDescriptorTable) AddEntry(d Descriptor) SegmentSelector {
	if g.loaded {
		panic(kernError("gdt: table modified after load"))
	}
	if g.nextFree+len(d.Words()) > len(g.table) {
		panic(kernError("gdt: table full"))
	}
	index := g.push(d.low)
	if d.system {
		g.push(d.high)
	}
	if d.tss != nil {
		g.tss = append(g.tss, d.tss)
	}
	rpl := Ring0
	if !d.system && DescriptorFlags(d.low)&FlagDPLRing3 == FlagDPLRing3 {
		rpl = Ring3
	}
	return NewSegmentSelector(uint16(index), rpl)
}

func (g *GlobalDescriptorTable) push(w uint64) int {
	i := g.nextFree
	g.table[i] = w
	g.nextFree++
	return i
}

// Load installs g as the active GDT. The table is kept reachable for the
// rest of the program and must not be modified afterwards. Segment
// registers are not reloaded.
func (g *GlobalDescriptorTable) Load() {
	p := mustCPU()
	// GDT should be 8-byte aligned for best performance.
	if uintptr(unsafe.Pointer(&g.table))%8 != 0 {
		panic(kernError("gdt: bad alignment"))
	}
	ptr := g.pointer()
	g.loaded = true
	activeTables.gdt = g
	p.LoadGDT(&ptr)
}

func (g *GlobalDescriptorTable) pointer() DescriptorTablePointer {
	return DescriptorTablePointer{
		Base:  VirtAddr(uintptr(unsafe.Pointer(&g.table))),
		Limit: uint16(g.nextFree*8 - 1),
	}
}
