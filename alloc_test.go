package isoalloc

import (
	"testing"
	"unsafe"
)

func TestAllocBasic(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(64)
	if p == nil {
		t.Fatal("Alloc(64) returned nil")
	}
	if uintptr(p)%Alignment != 0 {
		t.Fatalf("Alloc(64) returned misaligned pointer %#x", p)
	}
	if size := ChunkSize(p); size != 64 {
		t.Fatalf("ChunkSize = %d, want 64", size)
	}
}

func TestAllocZeroSizeReturnsNil(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	if p := Alloc(0); p != nil {
		t.Fatalf("Alloc(0) = %#x, want nil", p)
	}
}

func TestAllocRoundsUpToDefaultZone(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(10)
	if size := ChunkSize(p); size != 16 {
		t.Fatalf("ChunkSize(Alloc(10)) = %d, want 16 (smallest default class fitting 10)", size)
	}
}

func TestAllocOversizedCreatesDedicatedZone(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(1 << 20)
	if size := ChunkSize(p); size != 1<<20 {
		t.Fatalf("ChunkSize(Alloc(1<<20)) = %d, want %d", size, 1<<20)
	}
}

func TestCallocZeroes(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Calloc(16, 8)
	if p == nil {
		t.Fatal("Calloc(16, 8) returned nil")
	}

	b := unsafe.Slice((*byte)(p), 16*8)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, v)
		}
	}
}

func TestCallocOverflowAborts(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	defer func() {
		if recover() == nil {
			t.Fatal("Calloc did not abort on nmemb*size overflow")
		}
	}()
	Calloc(^uintptr(0), 2)
}

func TestUniqueAllocationsDoNotOverlap(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	seen := make(map[uintptr]bool)
	var ptrs []unsafe.Pointer
	for i := 0; i < 1000; i++ {
		p := Alloc(32)
		if p == nil {
			t.Fatal("Alloc(32) returned nil before any resource exhaustion was expected")
		}
		if seen[uintptr(p)] {
			t.Fatalf("address %#x returned twice among live allocations", p)
		}
		seen[uintptr(p)] = true
		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		Free(p)
	}
}

func TestIsZoneUsableWasteAvoidance(t *testing.T) {
	initRNG()
	var r Root
	z := newZone(&r, 4096, true)
	defer destroyZone(z)

	// Clear the slot newZone primed so isZoneUsable reaches the
	// waste-avoidance check instead of returning early.
	z.nextFreeBitSlot = BadBitSlot

	// 4096 >= 257*WastedSzMultiplier(8) = 2056, and 257 > Zone1024 is
	// false (257 < 1024), so the waste-avoidance branch must not fire.
	if !isZoneUsable(z, 257) {
		t.Fatal("isZoneUsable(z, 257) = false, want true (257 <= Zone1024, waste check disabled)")
	}
}

func TestIsZoneUsableAcceptsLargeRequestBelowWasteRatio(t *testing.T) {
	initRNG()
	var r Root
	z := newZone(&r, 4096, true)
	defer destroyZone(z)

	// Clear the slot newZone primed so isZoneUsable reaches the
	// waste-avoidance check instead of returning early.
	z.nextFreeBitSlot = BadBitSlot

	// 4096 is not >= 1025*8 = 8200, so this should still be accepted —
	// confirm the boundary direction rather than asserting rejection on
	// a zone too small to trigger it.
	if !isZoneUsable(z, 1025) {
		t.Fatal("isZoneUsable(z, 1025) against a 4096-byte zone should be accepted: chunkSize < size*WastedSzMultiplier")
	}
}
