package isoalloc

import (
	"runtime/debug"
	"testing"
	"unsafe"
)

func TestProtectRootFreezesAllocator(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	Alloc(64) // force initialization

	ProtectRoot()
	// A fault on the protected root is fatal to the process unless the
	// runtime is told to turn it into a panic.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if recover() == nil {
			t.Fatal("allocating against a protected root did not fault/abort")
		}
		UnprotectRoot()
	}()
	Alloc(64)
}

func TestProtectUnprotectRootRoundTrip(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	Alloc(64)
	ProtectRoot()
	UnprotectRoot()

	p := Alloc(64) // must work again after unprotect
	if p == nil {
		t.Fatal("Alloc failed after UnprotectRoot")
	}
}

func TestNewZoneDedicatedAllocation(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	handle := NewZone(128, true)
	p := AllocIn(handle, 128)
	if p == nil {
		t.Fatal("AllocIn against a freshly-created dedicated zone returned nil")
	}
	if size := ChunkSize(p); size != 128 {
		t.Fatalf("ChunkSize = %d, want 128", size)
	}
}

// TestReuseIsNotStrictlyOrdered checks that allocating and freeing the
// same size repeatedly does not keep handing back the chunk that was
// just freed (strict LIFO reuse): a freed bit-slot goes behind the
// slots still waiting in the zone's free-slot cache, or is dropped when
// that cache is full, so the next allocation pops a different slot.
func TestReuseIsNotStrictlyOrdered(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	const n = 64
	const trials = 40

	first := make([]unsafe.Pointer, 0, n)
	for i := 0; i < n; i++ {
		first = append(first, Alloc(32))
	}
	for _, p := range first {
		Free(p)
	}

	distinctFirstReuse := make(map[uintptr]bool)
	for i := 0; i < trials; i++ {
		p := Alloc(32)
		distinctFirstReuse[uintptr(p)] = true
		Free(p)
	}

	if len(distinctFirstReuse) <= 1 {
		t.Fatalf("reuse order looks strictly deterministic across %d trials (saw %d distinct first-reused addresses); expected the free-slot cache to vary it", trials, len(distinctFirstReuse))
	}
}
