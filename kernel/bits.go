// SPDX-License-Identifier: Unlicense OR MIT

package kernel

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Helpers for reading and writing bit ranges of the packed words
// read by the processor. Ranges are half-open: [lo, hi).

//go:nosplit
func bitWidth[T constraints.Unsigned]() uint {
	var v T
	return uint(unsafe.Sizeof(v)) * 8
}

//go:nosplit
func checkRange[T constraints.Unsigned](lo, hi uint) {
	if lo >= hi || hi > bitWidth[T]() {
		panic(kernError("bits: invalid bit range"))
	}
}

//go:nosplit
func rangeMask[T constraints.Unsigned](lo, hi uint) T {
	n := hi - lo
	if n == bitWidth[T]() {
		return ^T(0)
	}
	return (T(1)<<n - 1) << lo
}

// getBits returns bits [lo, hi) of v, shifted down to bit 0.
//
//go:nosplit
func getBits[T constraints.Unsigned](v T, lo, hi uint) T {
	checkRange[T](lo, hi)
	return (v & rangeMask[T](lo, hi)) >> lo
}

// setBits returns v with bits [lo, hi) replaced by val. Bits of val that do
// not fit the range are a programming error.
//
//go:nosplit
func setBits[T constraints.Unsigned](v T, lo, hi uint, val T) T {
	checkRange[T](lo, hi)
	mask := rangeMask[T](lo, hi)
	if hi-lo < bitWidth[T]() && val>>(hi-lo) != 0 {
		panic(kernError("bits: value does not fit bit range"))
	}
	return v&^mask | val<<lo&mask
}

//go:nosplit
func getBit[T constraints.Unsigned](v T, bit uint) bool {
	return getBits(v, bit, bit+1) != 0
}

//go:nosplit
func setBit[T constraints.Unsigned](v T, bit uint, on bool) T {
	var b T
	if on {
		b = 1
	}
	return setBits(v, bit, bit+1, b)
}
