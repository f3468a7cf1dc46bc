package isoalloc

// Zone owns one size class's worth of chunks: a bitmap mapping
// tracking two state bits per chunk, and a user mapping the chunks
// themselves are carved from. Both mappings are bracketed by
// inaccessible guard pages.
//
// Every field is either an integer or a fixed-size array of integers —
// no Go pointers — so that a Zone (and the Root table of them) can
// live in raw, unix.Mmap-obtained memory without the garbage collector
// ever needing to scan it. Addresses are uintptr, not unsafe.Pointer,
// for the same reason and to mirror the reference implementation's own
// pointer masking (maskZonePointers/unmaskZonePointers XOR these
// fields with a per-zone secret while the zone is at rest).
type Zone struct {
	index              int32
	chunkSize          uintptr
	internallyManaged  bool
	isFull             bool
	masked             bool

	bitmapSize            uintptr
	bitmapPagesGuardBelow uintptr
	bitmapStart           uintptr
	bitmapEnd             uintptr
	bitmapPagesGuardAbove uintptr

	userPagesGuardBelow uintptr
	userPagesStart      uintptr
	userPagesEnd        uintptr
	userPagesGuardAbove uintptr

	canarySecret uint64
	pointerMask  uint64

	freeBitSlotCache       [BitSlotCacheSize]int64
	freeBitSlotCacheIndex  int32
	freeBitSlotCacheUsable int32
	nextFreeBitSlot        int64
}

// chunkCount returns the number of chunks this zone's user mapping is
// divided into.
func (z *Zone) chunkCount() uintptr {
	return ZoneUserSize / z.chunkSize
}

// maskZonePointers XORs the zone's address fields with its pointer
// mask. Called whenever a zone is not actively being operated on, so
// that a leaked copy of the zone struct (or the root table containing
// it) doesn't directly hand an attacker the zone's real addresses.
func maskZonePointers(z *Zone) {
	if z.masked {
		abortf("zone[%d] pointers already masked", z.index)
	}
	z.bitmapStart ^= uintptr(z.pointerMask)
	z.bitmapEnd ^= uintptr(z.pointerMask)
	z.userPagesStart ^= uintptr(z.pointerMask)
	z.userPagesEnd ^= uintptr(z.pointerMask)
	z.masked = true
}

// unmaskZonePointers reverses maskZonePointers.
func unmaskZonePointers(z *Zone) {
	if !z.masked {
		abortf("zone[%d] pointers already unmasked", z.index)
	}
	z.bitmapStart ^= uintptr(z.pointerMask)
	z.bitmapEnd ^= uintptr(z.pointerMask)
	z.userPagesStart ^= uintptr(z.pointerMask)
	z.userPagesEnd ^= uintptr(z.pointerMask)
	z.masked = false
}

// alignUp rounds size up to a multiple of Alignment.
func alignUp(size uintptr) uintptr {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// newZone constructs and initializes a zone for the given chunk size,
// links it into root's table, and returns it. It aborts if the root's
// zone table is full or if any mapping fails.
//
// internal marks whether the engine is permitted to unmap this zone's
// memory outright at destruction time (true) or must only revoke
// access to it (false, for zones an embedder created for memory it
// wants to keep the address space of reserved after teardown).
func newZone(r *Root, size uintptr, internal bool) *Zone {
	if r.zonesUsed >= MaxZones {
		abortf("cannot allocate additional zones: root is at capacity (%d)", MaxZones)
	}

	size = alignUp(size)

	z := &r.zones[r.zonesUsed]
	*z = Zone{}
	z.index = r.zonesUsed
	z.internallyManaged = internal
	z.chunkSize = size

	chunkCount := ZoneUserSize / size
	// The bitmap is scanned one 32-bit word at a time, so it is sized to
	// a whole number of words.
	z.bitmapSize = (chunkCount*BitsPerChunk + BitsPerDword - 1) / BitsPerDword * 4

	ps := pageSize()

	p := mapRW(z.bitmapSize + 2*ps)
	z.bitmapPagesGuardBelow = p
	z.bitmapStart = p + ps
	z.bitmapEnd = p + z.bitmapSize + ps
	z.bitmapPagesGuardAbove = roundUpPage(p + z.bitmapSize + ps)

	protect(z.bitmapPagesGuardBelow, ps, protNone)
	advise(z.bitmapPagesGuardBelow, ps, adviseDontNeed)
	protect(z.bitmapPagesGuardAbove, ps, protNone)
	advise(z.bitmapPagesGuardAbove, ps, adviseDontNeed)

	advise(z.bitmapStart, z.bitmapSize, adviseWillNeed)
	advise(z.bitmapStart, z.bitmapSize, adviseSequential)

	// Slots in the last bitmap word that describe no chunk are marked in
	// use, so no scan ever hands them out.
	for c := chunkCount; c < z.bitmapSize*8/BitsPerChunk; c++ {
		word, bitOffset := bitmapWord(z, int64(c)*BitsPerChunk)
		*word = setBit(*word, bitOffset)
	}

	p = mapRW(ZoneUserSize + 2*ps)
	z.userPagesGuardBelow = p
	z.userPagesStart = p + ps
	z.userPagesEnd = p + ZoneUserSize + ps
	z.userPagesGuardAbove = roundUpPage(p + ZoneUserSize + ps)

	protect(z.userPagesGuardBelow, ps, protNone)
	advise(z.userPagesGuardBelow, ps, adviseDontNeed)
	protect(z.userPagesGuardAbove, ps, protNone)
	advise(z.userPagesGuardAbove, ps, adviseDontNeed)

	advise(z.userPagesStart, ZoneUserSize, adviseWillNeed)
	advise(z.userPagesStart, ZoneUserSize, adviseRandom)

	z.canarySecret = rng.next64()
	z.pointerMask = rng.next64()

	createCanaryChunks(z)

	fillFreeBitSlotCache(z)
	getNextFreeBitSlot(z)

	maskZonePointers(z)

	r.zonesUsed++
	return z
}

// createCanaryChunks reserves roughly chunkCount/CanaryCountDiv chunks
// as permanent canary chunks: marked (1,1) in the bitmap and given a
// canary, but never allocated. They exist purely to be discovered (and
// corrupted) by an attacker scanning the heap, which VerifyAllZones then
// catches. Only zones whose chunk size is at most MaxDefaultZoneSize
// get them; a zone with larger chunks would waste a disproportionate
// amount of memory setting any aside.
//
// This only runs at zone construction, when every chunk is known to
// still be free, so it does not need to inspect existing bitmap state.
// Two selections landing on the same index are tolerated, exactly as
// in the reference implementation: canary chunks are a probabilistic
// deterrent, not an exact count.
func createCanaryChunks(z *Zone) {
	if z.chunkSize > MaxDefaultZoneSize {
		return
	}

	maxWordIdx := int32(z.bitmapSize / 4)
	if maxWordIdx == 0 {
		return
	}

	chunkCount := int32(z.chunkCount())
	canaryCount := chunkCount / CanaryCountDiv

	for i := int32(0); i < canaryCount; i++ {
		bmIdx := alignIdxDown(rng.intn(maxWordIdx))
		if bmIdx < 0 {
			bmIdx = 0
		}

		word, _ := bitmapWord(z, int64(bmIdx)*int64(BitsPerDword))
		*word = setBit(*word, 0)
		*word = setBit(*word, 1)

		bitSlot := int64(bmIdx) * int64(BitsPerDword)
		p := pointerFromBitSlot(z, bitSlot)
		writeCanary(z, p)
	}
}

// destroyZone tears down a zone. An internally-managed zone is fully
// unmapped and zeroed. A zone that isn't (one an embedder asked to
// keep reserved) instead has both its mappings switched to PROT_NONE
// and is otherwise left alone — any thread still holding a pointer
// into it faults on next access, and the root's coarse mutex remains
// held by the caller (teardown runs under the root lock), so any
// concurrent allocator operation against this zone deadlocks rather
// than racing a freed mapping. That's intentional: an embedder that
// externally manages a zone's lifetime has promised nothing else
// touches it concurrently with teardown.
func destroyZone(z *Zone) {
	if z.masked {
		unmaskZonePointers(z)
	}

	ps := pageSize()

	if !z.internallyManaged {
		protect(z.bitmapStart, z.bitmapSize, protNone)
		protect(z.userPagesStart, ZoneUserSize, protNone)
		return
	}

	unmap(z.bitmapPagesGuardBelow, z.bitmapSize+2*ps)
	unmap(z.userPagesGuardBelow, ZoneUserSize+2*ps)

	*z = Zone{}
}
