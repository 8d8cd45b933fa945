// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"testing"
	"unsafe"
)

func TestDescriptorFlagValues(t *testing.T) {
	tests := []struct {
		name  string
		flags DescriptorFlags
		want  uint64
	}{
		{"KernelData", KernelData, 0x00cf_9300_0000_ffff},
		{"KernelCode32", KernelCode32, 0x00cf_9b00_0000_ffff},
		{"KernelCode64", KernelCode64, 0x00af_9b00_0000_ffff},
		{"UserData", UserData, 0x00cf_f300_0000_ffff},
		{"UserCode32", UserCode32, 0x00cf_fb00_0000_ffff},
		{"UserCode64", UserCode64, 0x00af_fb00_0000_ffff},
	}
	for _, test := range tests {
		if got := uint64(test.flags); got != test.want {
			t.Errorf("%s = %#016x, want %#016x", test.name, got, test.want)
		}
	}
}

func TestTSSDescriptor(t *testing.T) {
	d := tssDescriptor(0x1234_5678_9abc_def0)
	if !d.IsSystem() {
		t.Fatal("TSS descriptor is not a system segment")
	}
	w := d.Words()
	if len(w) != 2 {
		t.Fatalf("%d words, want 2", len(w))
	}
	if w[0] != 0x9a00_89bc_def0_0067 {
		t.Errorf("low = %#016x", w[0])
	}
	if w[1] != 0x1234_5678 {
		t.Errorf("high = %#x", w[1])
	}
}

func TestGDTAddEntry(t *testing.T) {
	g := NewGDT()
	tss := NewTaskStateSegment()
	tests := []struct {
		d    Descriptor
		want uint16
	}{
		{KernelCodeSegment(), 0x08},
		{KernelDataSegment(), 0x10},
		{UserCodeSegment(), 0x1b},
		{UserDataSegment(), 0x23},
		{TSSSegment(tss), 0x28},
		{UserSegment(UserCode32), 0x3b},
	}
	for i, test := range tests {
		if got := g.AddEntry(test.d); uint16(got) != test.want {
			t.Errorf("entry %d: selector %#x, want %#x", i, uint16(got), test.want)
		}
	}
	raw := g.Raw()
	if len(raw) != 8 {
		t.Fatalf("%d words used, want 8", len(raw))
	}
	if raw[0] != 0 {
		t.Errorf("null descriptor = %#x", raw[0])
	}
	if raw[1] != uint64(KernelCode64) || raw[4] != uint64(UserData) {
		t.Errorf("user segment words = %#x, %#x", raw[1], raw[4])
	}
	if len(g.tss) != 1 || g.tss[0] != tss {
		t.Error("TSS not kept by the table")
	}
	mustPanic(t, "gdt: table full", func() {
		g.AddEntry(KernelDataSegment())
	})
}

func TestGDTCapacity(t *testing.T) {
	g := NewGDT()
	for i := 0; i < 7; i++ {
		g.AddEntry(KernelDataSegment())
	}
	mustPanic(t, "gdt: table full", func() {
		g.AddEntry(KernelDataSegment())
	})

	g = NewGDT()
	for i := 0; i < 6; i++ {
		g.AddEntry(KernelDataSegment())
	}
	// One word left; a system segment needs two.
	mustPanic(t, "gdt: table full", func() {
		g.AddEntry(TSSSegment(NewTaskStateSegment()))
	})
}

func TestGDTFromRaw(t *testing.T) {
	words := []uint64{0, uint64(KernelCode64), uint64(KernelData)}
	g := GDTFromRaw(words)
	got := g.Raw()
	if len(got) != len(words) {
		t.Fatalf("Raw = %#x", got)
	}
	for i := range words {
		if got[i] != words[i] {
			t.Errorf("word %d = %#x, want %#x", i, got[i], words[i])
		}
	}
	if sel := g.AddEntry(UserDataSegment()); uint16(sel) != 0x1b {
		t.Errorf("selector after raw words = %#x, want 0x1b", uint16(sel))
	}
	mustPanic(t, "gdt: a raw table holds at most 8 words", func() {
		GDTFromRaw(make([]uint64, 9))
	})
}

func TestGDTLoad(t *testing.T) {
	c := withHostedCPU(t)
	g := NewGDT()
	g.AddEntry(KernelCodeSegment())
	g.AddEntry(KernelDataSegment())
	g.AddEntry(TSSSegment(NewTaskStateSegment()))
	g.Load()

	ptr := c.GDTR()
	if ptr.Limit != 5*8-1 {
		t.Errorf("limit = %d, want %d", ptr.Limit, 5*8-1)
	}
	if ptr.Base != VirtAddr(uintptr(unsafe.Pointer(&g.table))) {
		t.Errorf("base = %v", ptr.Base)
	}
	if activeTables.gdt != g {
		t.Error("loaded table not retained")
	}
	mustPanic(t, "gdt: table modified after load", func() {
		g.AddEntry(UserDataSegment())
	})
}

func TestTaskStateSegment(t *testing.T) {
	if tssSize != 104 {
		t.Fatalf("TSS size = %d, want 104", tssSize)
	}
	tss := NewTaskStateSegment()
	if got := tss.IOMapBase(); got != 104 {
		t.Errorf("I/O map base = %d, want 104", got)
	}
	tss.SetPrivilegeStack(0, 0xffff_8000_0000_1000)
	tss.SetInterruptStack(0, 0xffff_8000_0000_2000)
	tss.SetInterruptStack(6, 0xffff_8000_0000_3000)
	b := (*[104]byte)(unsafe.Pointer(tss))
	read64 := func(off int) uint64 {
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[off+i])
		}
		return v
	}
	// Hardware offsets: RSP0 at 4, IST1 at 36, IST7 at 84, I/O map base
	// at 102.
	if got := read64(4); got != 0xffff_8000_0000_1000 {
		t.Errorf("RSP0 = %#x", got)
	}
	if got := read64(36); got != 0xffff_8000_0000_2000 {
		t.Errorf("IST1 = %#x", got)
	}
	if got := read64(84); got != 0xffff_8000_0000_3000 {
		t.Errorf("IST7 = %#x", got)
	}
	if got := uint16(b[102]) | uint16(b[103])<<8; got != 104 {
		t.Errorf("I/O map base bytes = %d", got)
	}
	if tss.PrivilegeStack(0) != 0xffff_8000_0000_1000 || tss.InterruptStack(6) != 0xffff_8000_0000_3000 {
		t.Error("stack getters disagree with setters")
	}
	mustPanic(t, "tss: interrupt stack index out of range", func() {
		tss.SetInterruptStack(7, 0)
	})
	mustPanic(t, "tss: privilege stack index out of range", func() {
		tss.SetPrivilegeStack(3, 0)
	})
}
