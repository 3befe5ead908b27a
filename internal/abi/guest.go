//go:build wasip1

package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// MaxTotalAllocations caps guest-side memory handed to the host.
const MaxTotalAllocations = 100 * 1024 * 1024 // 100 MB

// Allocated slices are pinned here so the Go GC cannot move or collect
// them while the host holds their address.
var memoryManager = struct {
	sync.Mutex
	ptrs           map[uint32][]byte
	totalAllocated int
}{
	ptrs: make(map[uint32][]byte),
}

// alloc reserves guest memory the host can write into and returns its
// address. Panics when the allocation cap would be exceeded.
//
//go:wasmexport alloc
func alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	memoryManager.Lock()
	defer memoryManager.Unlock()

	if memoryManager.totalAllocated+int(size) > MaxTotalAllocations {
		panic(fmt.Sprintf("abi: allocation limit exceeded (requested %d, in use %d, limit %d)",
			size, memoryManager.totalAllocated, MaxTotalAllocations))
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	memoryManager.ptrs[ptr] = buf
	memoryManager.totalAllocated += int(size)
	return ptr
}

// dealloc releases a region previously returned by alloc. Untracked
// addresses are ignored so double-frees stay harmless. Accounting uses
// the stored length, not the caller's size argument.
//
//go:wasmexport dealloc
func dealloc(ptr uint32, _ uint32) {
	memoryManager.Lock()
	defer memoryManager.Unlock()

	stored, ok := memoryManager.ptrs[ptr]
	if !ok {
		return
	}
	delete(memoryManager.ptrs, ptr)
	memoryManager.totalAllocated -= len(stored)
	if memoryManager.totalAllocated < 0 {
		memoryManager.totalAllocated = 0
	}
}

// FreeAllTracked drops every pinned region. Called from panic recovery
// so an aborted invocation does not leak.
func FreeAllTracked() {
	memoryManager.Lock()
	defer memoryManager.Unlock()
	for ptr := range memoryManager.ptrs {
		delete(memoryManager.ptrs, ptr)
	}
	memoryManager.totalAllocated = 0
}

// PackBytes allocates guest memory, copies data into it, and returns
// the packed address and length for handing to the host.
func PackBytes(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	size := uint32(len(data))
	ptr := alloc(size)
	dest := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data))
	copy(dest, data)
	return Pack(ptr, size)
}

// UnpackBytes copies the region a packed value describes out of linear
// memory.
func UnpackBytes(packed uint64) ([]byte, error) {
	ptr, length, err := Unpack(packed)
	if err != nil {
		return nil, err
	}
	if ptr == 0 || length == 0 {
		return nil, nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	data := make([]byte, length)
	copy(data, src)
	return data, nil
}

// FreePacked releases the region a packed value describes.
func FreePacked(packed uint64) {
	ptr, length, err := Unpack(packed)
	if err != nil {
		return
	}
	if ptr != 0 && length > 0 {
		dealloc(ptr, length)
	}
}
