// Package abi defines the pointer-passing convention between host and
// guest: a single i64 carries a linear-memory address in the high 32
// bits and a byte length in the low 32 bits.
package abi

import "fmt"

// Pack combines an address and length into one uint64. Address 0 with a
// non-zero length is a caller bug and panics.
func Pack(addr, length uint32) uint64 {
	if addr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: null address with non-zero length %d", length))
	}
	return (uint64(addr) << 32) | uint64(length)
}

// Unpack splits a packed value into address and length. Values come
// from the guest and are untrusted, so a null address with a non-zero
// length is an error rather than a panic.
func Unpack(packed uint64) (addr, length uint32, err error) {
	addr = uint32(packed >> 32)
	length = uint32(packed)
	if addr == 0 && length > 0 {
		return 0, 0, fmt.Errorf("abi: null address with non-zero length %d", length)
	}
	return addr, length, nil
}

// IsEmpty reports whether packed encodes a zero-length region.
func IsEmpty(packed uint64) bool {
	return uint32(packed) == 0
}
