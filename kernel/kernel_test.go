// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"fmt"
	"strings"
	"testing"
)

// withHostedCPU installs a fresh hosted processor for the duration of
// the test.
func withHostedCPU(t *testing.T) *HostedCPU {
	t.Helper()
	saved, savedTables := cpu, activeTables
	c := NewHostedCPU()
	cpu = c
	t.Cleanup(func() {
		cpu, activeTables = saved, savedTables
	})
	return c
}

func mustPanic(t *testing.T, want string, f func()) {
	t.Helper()
	if got := recoverMessage(t, f); got != want {
		t.Fatalf("panic %q, want %q", got, want)
	}
}

func mustPanicPrefix(t *testing.T, prefix string, f func()) {
	t.Helper()
	if got := recoverMessage(t, f); !strings.HasPrefix(got, prefix) {
		t.Fatalf("panic %q, want prefix %q", got, prefix)
	}
}

func recoverMessage(t *testing.T, f func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("no panic")
		}
		msg = fmt.Sprint(r)
	}()
	f()
	return ""
}

func TestBits(t *testing.T) {
	v := uint64(0xdead_beef_0000_0000)
	if got := getBits(v, 32, 48); got != 0xbeef {
		t.Errorf("getBits = %#x, want 0xbeef", got)
	}
	if got := getBits(v, 0, 64); got != v {
		t.Errorf("getBits full range = %#x", got)
	}
	if got := setBits(v, 32, 48, 0x1234); got != 0xdead_1234_0000_0000 {
		t.Errorf("setBits = %#x", got)
	}
	if got := setBits(uint16(0xffff), 13, 15, 0); got != 0x9fff {
		t.Errorf("setBits = %#x, want 0x9fff", got)
	}
	if got := setBits(uint32(0), 0, 32, 0xffff_ffff); got != 0xffff_ffff {
		t.Errorf("setBits full range = %#x", got)
	}
	if !getBit(uint8(0x80), 7) || getBit(uint8(0x7f), 7) {
		t.Error("getBit(7) wrong")
	}
	if got := setBit(uint8(0), 3, true); got != 8 {
		t.Errorf("setBit = %d, want 8", got)
	}
	if got := setBit(uint8(0xff), 0, false); got != 0xfe {
		t.Errorf("setBit = %#x, want 0xfe", got)
	}
	mustPanic(t, "bits: value does not fit bit range", func() {
		setBits(uint16(0), 0, 3, 8)
	})
	mustPanic(t, "bits: invalid bit range", func() {
		getBits(uint16(0), 4, 4)
	})
	mustPanic(t, "bits: invalid bit range", func() {
		getBits(uint16(0), 8, 17)
	})
}

func TestSegmentSelector(t *testing.T) {
	s := NewSegmentSelector(5, Ring3)
	if uint16(s) != 0x2b {
		t.Errorf("selector = %#x, want 0x2b", uint16(s))
	}
	if s.Index() != 5 || s.RPL() != Ring3 {
		t.Errorf("Index, RPL = %d, %v", s.Index(), s.RPL())
	}
	if got, want := s.String(), "SegmentSelector{index: 5, rpl: Ring3}"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got := NewSegmentSelector(0x1fff, Ring0); uint16(got) != 0xfff8 {
		t.Errorf("max selector = %#x", uint16(got))
	}
	mustPanic(t, "selector: index out of range", func() {
		NewSegmentSelector(0x2000, Ring0)
	})
	if got := PrivilegeLevel(4).String(); got != "PrivilegeLevel(4)" {
		t.Errorf("String = %q", got)
	}
}

func TestVirtAddr(t *testing.T) {
	for _, a := range []uint64{0, 0x7fff_ffff_ffff, 0xffff_8000_0000_0000, 0xffff_ffff_ffff_ffff} {
		if _, ok := tryVirtAddr(a); !ok {
			t.Errorf("%#x not canonical", a)
		}
	}
	for _, a := range []uint64{0x8000_0000_0000, 0x0001_0000_0000_0000, 0xfff0_0000_0000_0000} {
		if _, ok := tryVirtAddr(a); ok {
			t.Errorf("%#x canonical", a)
		}
	}
	mustPanic(t, "address 0x800000000000 is not canonical", func() {
		NewVirtAddr(0x8000_0000_0000)
	})
}

func TestDescriptorTablePointerBytes(t *testing.T) {
	p := DescriptorTablePointer{Limit: 0x0fff, Base: 0xffff_8000_0012_3450}
	want := [10]byte{0xff, 0x0f, 0x50, 0x34, 0x12, 0x00, 0x00, 0x80, 0xff, 0xff}
	if got := p.bytes(); got != want {
		t.Errorf("bytes = % x, want % x", got, want)
	}
}

func TestPageFaultErrorCodeString(t *testing.T) {
	tests := []struct {
		c    PageFaultErrorCode
		want string
	}{
		{0, "PageFaultErrorCode(0)"},
		{PageFaultCausedByWrite, "CAUSED_BY_WRITE"},
		{PageFaultProtectionViolation | PageFaultUserMode, "PROTECTION_VIOLATION | USER_MODE"},
	}
	for _, test := range tests {
		if got := test.c.String(); got != test.want {
			t.Errorf("%d: got %q, want %q", uint64(test.c), got, test.want)
		}
	}
}
