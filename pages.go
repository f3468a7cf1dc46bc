package isoalloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// advisePattern names the access pattern hint passed to advise.
type advisePattern int

const (
	adviseWillNeed advisePattern = iota
	adviseSequential
	adviseRandom
	adviseDontNeed
)

// protNone and protReadWrite are the two protection modes this
// package ever puts a mapping in: fully inaccessible (for guard pages
// and revoked zones) or fully readable-writable (for everything else).
const (
	protNone      = unix.PROT_NONE
	protReadWrite = unix.PROT_READ | unix.PROT_WRITE
)

var systemPageSize = uintptr(unix.Getpagesize())

// pageSize returns the system page size, queried once at process
// start.
func pageSize() uintptr {
	return systemPageSize
}

// roundUpPage rounds size up to a multiple of the system page size.
func roundUpPage(size uintptr) uintptr {
	ps := pageSize()
	return (size + ps - 1) &^ (ps - 1)
}

// mapRW maps a fresh, zeroed, anonymous, readable-writable region of
// at least size bytes and returns its base address. Mapping failures
// are non-recoverable: the reference implementation's threat model
// treats an inability to get memory from the kernel as fatal, not as
// something the caller can meaningfully recover from.
func mapRW(size uintptr) uintptr {
	size = roundUpPage(size)

	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		abortf("failed to mmap %d bytes: %v", size, err)
	}

	return uintptr(unsafe.Pointer(&b[0]))
}

// unmap releases a mapping previously obtained from mapRW. size must
// be the same (page-rounded) size the mapping was created with.
func unmap(p uintptr, size uintptr) {
	size = roundUpPage(size)
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), size)
	if err := unix.Munmap(b); err != nil {
		abortf("failed to munmap %#x (%d bytes): %v", p, size, err)
	}
}

// protect changes the protection of a mapped region. mode is either
// unix.PROT_NONE (to install a guard) or unix.PROT_READ|unix.PROT_WRITE
// (to restore normal access).
func protect(p uintptr, size uintptr, mode int) {
	size = roundUpPage(size)
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), size)
	if err := unix.Mprotect(b, mode); err != nil {
		abortf("failed to mprotect %#x (%d bytes) to mode %#x: %v", p, size, mode, err)
	}
}

// advise hints to the kernel how a region will be accessed.
// advise failures are not fatal: they only affect performance, never
// correctness, so unlike mapRW/protect an advise failure is ignored.
func advise(p uintptr, size uintptr, pattern advisePattern) {
	size = roundUpPage(size)
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), size)

	var hint int
	switch pattern {
	case adviseWillNeed:
		hint = unix.MADV_WILLNEED
	case adviseSequential:
		hint = unix.MADV_SEQUENTIAL
	case adviseRandom:
		hint = unix.MADV_RANDOM
	case adviseDontNeed:
		hint = unix.MADV_DONTNEED
	}

	_ = unix.Madvise(b, hint)
}
