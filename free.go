package isoalloc

import "unsafe"

// findZoneRange resolves a user pointer to the zone whose user region
// contains it, unmasking each zone's pointers to compare and leaving
// the matching zone unmasked for the caller. It aborts if no zone
// contains p.
//
// After the loop over the real zones, the search deliberately also
// probes zones[zonesUsed], one slot past the last real zone: a
// still-zeroed, never-initialized Zone. That sentinel is never masked
// (its pointerMask and addresses are all zero), so it is compared
// directly rather than routed through unmaskZonePointers/
// maskZonePointers, which would otherwise trip their own
// already-unmasked guard. It is expected to fail the range check like
// any other non-matching zone. Kept as a defensive tripwire rather than
// dropped.
func findZoneRange(r *Root, p uintptr) *Zone {
	for i := int32(0); i < r.zonesUsed; i++ {
		z := &r.zones[i]
		unmaskZonePointers(z)
		if p >= z.userPagesStart && p < z.userPagesEnd {
			return z
		}
		maskZonePointers(z)
	}

	sentinel := &r.zones[r.zonesUsed]
	if p >= sentinel.userPagesStart && p < sentinel.userPagesEnd {
		abortf("address %#x matched the uninitialized sentinel zone[%d]", p, r.zonesUsed)
	}

	abortf("address %#x does not belong to any zone", p)
	return nil
}

// freeChunkFromZone implements the validated body of _iso_free once p
// has been resolved to z, which must already be unmasked. It re-masks z
// before returning.
func freeChunkFromZone(z *Zone, p uintptr, permanent bool) {
	defer maskZonePointers(z)

	if p%Alignment != 0 {
		abortf("address %#x is not %d-byte aligned", p, Alignment)
	}

	chunkOffset := p - z.userPagesStart
	chunkNumber := chunkOffset / z.chunkSize
	if chunkOffset%z.chunkSize != 0 {
		abortf("address %#x is not chunk-aligned in zone[%d] (chunk size %d)", p, z.index, z.chunkSize)
	}

	bitSlot := int64(chunkNumber) * int64(BitsPerChunk)
	if bitSlot < 0 || bitSlot >= int64(z.bitmapSize)*8 {
		abortf("address %#x resolved to out-of-range bit slot %d in zone[%d]", p, bitSlot, z.index)
	}

	word, bitOffset := bitmapWord(z, bitSlot)

	if getBit(*word, bitOffset) == 0 {
		abortf("double free detected: address %#x in zone[%d]", p, z.index)
	}

	*word = setBit(*word, bitOffset+1)
	if !permanent {
		*word = unsetBit(*word, bitOffset)
	}

	poisonChunk(z, p)
	writeCanary(z, p)

	auditNeighbors(z, chunkNumber)

	if !permanent {
		insertFreeBitSlot(z, bitSlot)
	}
	z.isFull = false
}

// poisonChunk overwrites the full body of the chunk at p with
// PoisonByte. The canary written immediately afterward overwrites the
// poison at both ends, so a stale read inside the body is visible as
// poison while the ends still carry a verifiable canary.
func poisonChunk(z *Zone, p uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), z.chunkSize)
	for i := range b {
		b[i] = PoisonByte
	}
}

// auditNeighbors opportunistically verifies the canaries of the chunks
// immediately before and after chunkNumber, when those neighbors exist
// and have previously been used. Every free doubles as a partial
// integrity audit of its surroundings.
func auditNeighbors(z *Zone, chunkNumber uintptr) {
	count := z.chunkCount()

	if chunkNumber > 0 {
		auditNeighbor(z, chunkNumber-1)
	}
	if chunkNumber+1 < count {
		auditNeighbor(z, chunkNumber+1)
	}
}

func auditNeighbor(z *Zone, chunkNumber uintptr) {
	bitSlot := int64(chunkNumber) * int64(BitsPerChunk)
	word, bitOffset := bitmapWord(z, bitSlot)
	if getBit(*word, bitOffset+1) == 0 {
		return
	}
	p := pointerFromBitSlot(z, bitSlot)
	checkCanary(z, p)
}

// Free releases p, returning its chunk to its zone's free-slot cache. A
// nil pointer is a no-op. Freeing an address not owned by any zone, a
// misaligned address, or an address already free all abort the
// process.
func Free(p unsafe.Pointer) {
	freeImpl(p, false)
}

// FreePermanently releases p but marks its slot unreclaimable: it
// becomes a canary chunk and is never handed out by a future
// allocation.
func FreePermanently(p unsafe.Pointer) {
	freeImpl(p, true)
}

func freeImpl(p unsafe.Pointer, permanent bool) {
	if p == nil {
		return
	}

	initRoot()
	root.mu.Lock()
	defer root.mu.Unlock()

	addr := uintptr(p)
	z := findZoneRange(root, addr)
	freeChunkFromZone(z, addr, permanent)
}

// verifyZone walks z's bitmap and, for every chunk in a previously-used
// state ((1,0) or (1,1)), verifies its canary, aborting on the first
// mismatch found. z must already be unmasked; it is left unmasked.
func verifyZone(z *Zone) {
	maxWordIdx := int32(z.bitmapSize / 4)
	for i := int32(0); i < maxWordIdx; i++ {
		word, _ := bitmapWord(z, int64(i)*int64(BitsPerDword))
		for j := uint32(0); j < BitsPerDword; j += BitsPerChunk {
			if getBit(*word, j+1) == 0 {
				continue
			}
			bitSlot := int64(i)*int64(BitsPerDword) + int64(j)
			p := pointerFromBitSlot(z, bitSlot)
			checkCanary(z, p)
		}
	}
}

// VerifyAllZones walks every zone and verifies the canary of every
// chunk in a previously-used state, aborting on the first corruption
// found. Intended for explicit, caller-driven integrity checks.
func VerifyAllZones() {
	initRoot()
	root.mu.Lock()
	defer root.mu.Unlock()

	for i := int32(0); i < root.zonesUsed; i++ {
		z := &root.zones[i]
		unmaskZonePointers(z)
		verifyZone(z)
		maskZonePointers(z)
	}
}

// ChunkSize returns the size class of the zone owning p, or 0 if p is
// nil. Passing an address not owned by any zone aborts, consistent with
// every other pointer-resolving operation in this package.
func ChunkSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}

	initRoot()
	root.mu.Lock()
	defer root.mu.Unlock()

	z := findZoneRange(root, uintptr(p))
	size := z.chunkSize
	maskZonePointers(z)
	return size
}
