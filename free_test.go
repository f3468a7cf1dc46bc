package isoalloc

import (
	"sync"
	"testing"
	"unsafe"
)

// abandonRoot drops a root whose memory a test has deliberately
// corrupted, so that the cleanup Destroy (which verifies every zone and
// aborts on a bad canary) has nothing to tear down. The old root's
// mappings are leaked.
func abandonRoot() {
	root = nil
	rootOnce = sync.Once{}
}

func TestFreeNilIsNoop(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	Free(nil) // must not panic
}

func TestFreePoisonsChunk(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(64)
	Free(p)

	b := unsafe.Slice((*byte)(p), 64)
	for i := CanarySize; i < 64-CanarySize; i++ {
		if b[i] != PoisonByte {
			t.Fatalf("byte %d = %#x after free, want poison byte %#x", i, b[i], byte(PoisonByte))
		}
	}
}

func TestDoubleFreeAborts(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(64)
	Free(p)

	defer func() {
		if recover() == nil {
			t.Fatal("second Free of the same pointer did not abort")
		}
	}()
	Free(p)
}

func TestFreeUnownedAddressAborts(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	Alloc(64) // ensure at least one zone exists

	var x int
	defer func() {
		if recover() == nil {
			t.Fatal("Free of an address outside any zone did not abort")
		}
	}()
	Free(unsafe.Pointer(&x))
}

func TestFreeMisalignedAborts(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(64)

	defer func() {
		if recover() == nil {
			t.Fatal("Free of a misaligned address did not abort")
		}
	}()
	Free(unsafe.Pointer(uintptr(p) + 1))
}

func TestUseAfterFreeCanaryCaughtOnReuse(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	// Use a dedicated zone with a small, exactly-known chunk count (one
	// bitmap word's worth) so that, once every chunk has been handed
	// out once, freeing exactly one of them guarantees the next
	// allocation reuses that exact chunk.
	const chunkSize = ZoneUserSize / 16
	handle := NewZone(chunkSize, true)

	var ptrs []unsafe.Pointer
	for i := 0; i < 16; i++ {
		p := AllocIn(handle, chunkSize)
		if p == nil {
			t.Fatalf("AllocIn #%d returned nil", i)
		}
		ptrs = append(ptrs, p)
	}

	target := ptrs[0]
	Free(target)
	*(*uint64)(target) = 0xAAAAAAAAAAAAAAAA

	defer func() {
		if recover() == nil {
			t.Fatal("reallocating a chunk with a corrupted canary did not abort")
		}
		abandonRoot()
	}()
	AllocIn(handle, chunkSize)
}

func TestFreePermanentlyNeverReused(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	p := Alloc(64)
	FreePermanently(p)

	seen := map[uintptr]bool{uintptr(p): true}
	for i := 0; i < 200; i++ {
		q := Alloc(64)
		if q != nil && seen[uintptr(q)] {
			t.Fatalf("permanently-freed address %#x was reallocated", p)
		}
		if q != nil {
			seen[uintptr(q)] = true
		}
	}
}

func TestVerifyAllZonesDetectsNeighborCorruption(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	a := Alloc(64)
	b := Alloc(64)
	Free(a)
	Free(b)

	*(*uint64)(a) = 0 // corrupt a's canary directly

	defer func() {
		if recover() == nil {
			t.Fatal("VerifyAllZones did not abort on a corrupted canary")
		}
		abandonRoot()
	}()
	VerifyAllZones()
}

func TestChunkSizeNilReturnsZero(t *testing.T) {
	Destroy()
	t.Cleanup(Destroy)

	if size := ChunkSize(nil); size != 0 {
		t.Fatalf("ChunkSize(nil) = %d, want 0", size)
	}
}
