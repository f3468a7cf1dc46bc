package isoalloc

import "unsafe"

// findZoneFit scans the root's zones in order for the first one able to
// satisfy an allocation of size bytes, skipping zones too small,
// externally managed, or already marked full.
func findZoneFit(r *Root, size uintptr) *Zone {
	for i := int32(0); i < r.zonesUsed; i++ {
		z := &r.zones[i]
		if z.chunkSize < size {
			continue
		}
		if !z.internallyManaged || z.isFull {
			continue
		}
		if isZoneUsable(z, size) {
			return z
		}
	}
	return nil
}

// isZoneUsable decides whether z can satisfy a request for size bytes
// right now, priming z.nextFreeBitSlot as a side effect when it finds
// one. It returns false either because z is a poor fit (the
// waste-avoidance check) or because it is observed to be completely
// full.
func isZoneUsable(z *Zone, size uintptr) bool {
	if z.nextFreeBitSlot != BadBitSlot {
		return true
	}

	unmaskZonePointers(z)
	defer maskZonePointers(z)

	if z.chunkSize >= size*WastedSzMultiplier && size > Zone1024 {
		return false
	}

	if z.freeBitSlotCacheUsable >= z.freeBitSlotCacheIndex {
		fillFreeBitSlotCache(z)
	}
	if getNextFreeBitSlot(z) != BadBitSlot {
		return true
	}

	if slot, ok := scanZoneFreeSlot(z); ok {
		z.nextFreeBitSlot = slot
		return true
	}

	if slot, ok := scanZoneFreeSlotSlow(z); ok {
		z.nextFreeBitSlot = slot
		return true
	}

	z.isFull = true
	return false
}

// scanZoneFreeSlot is the fast path: it looks for an entirely-empty
// bitmap word (every chunk in it free and never used) and returns the
// bit-slot of its first chunk.
func scanZoneFreeSlot(z *Zone) (int64, bool) {
	maxWordIdx := int32(z.bitmapSize / 4)
	for i := int32(0); i < maxWordIdx; i++ {
		word, _ := bitmapWord(z, int64(i)*int64(BitsPerDword))
		if *word == 0 {
			return int64(i) * int64(BitsPerDword), true
		}
	}
	return 0, false
}

// scanZoneFreeSlotSlow is the fallback path: a per-chunk scan for the
// first slot whose in-use bit is clear, run only once the fast scan and
// a cache refill have both failed.
func scanZoneFreeSlotSlow(z *Zone) (int64, bool) {
	maxWordIdx := int32(z.bitmapSize / 4)
	for i := int32(0); i < maxWordIdx; i++ {
		word, _ := bitmapWord(z, int64(i)*int64(BitsPerDword))
		for j := uint32(0); j < BitsPerDword; j += BitsPerChunk {
			if getBit(*word, j) == 0 {
				return int64(i)*int64(BitsPerDword) + int64(j), true
			}
		}
	}
	return 0, false
}

// chooseZoneForCreation picks the chunk size for a new, on-demand
// zone: the smallest default size class that fits size, or size itself
// (aligned up) if it exceeds every default class.
func chooseZoneForCreation(size uintptr) uintptr {
	for _, s := range defaultZones {
		if uintptr(s) >= size {
			return uintptr(s)
		}
	}
	return alignUp(size)
}

// Alloc returns a freshly-allocated chunk of at least size bytes, with
// indeterminate contents and alignment of at least Alignment. It aborts
// the process rather than returning an error on any detected
// corruption or resource exhaustion; it returns a nil pointer only if
// size is zero or larger than ZoneUserSize, since no zone's user
// region can hold a chunk that large.
func Alloc(size uintptr) unsafe.Pointer {
	return allocFromHint(nil, size)
}

// allocFromHint implements _iso_alloc: zoneHint, when non-nil, pins the
// allocation to that zone (used by dedicated/internal-zone callers);
// when nil the engine finds or creates a fitting zone itself.
func allocFromHint(zoneHint *Zone, size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	initRoot()
	root.mu.Lock()
	defer root.mu.Unlock()

	z := zoneHint
	if z == nil {
		z = findZoneFit(root, size)
		if z == nil {
			z = newZone(root, chooseZoneForCreation(size), true)
		}
	} else if !isZoneUsable(z, size) {
		return nil
	}

	freeBitSlot := z.nextFreeBitSlot
	if freeBitSlot == BadBitSlot {
		return nil
	}

	unmaskZonePointers(z)
	z.nextFreeBitSlot = BadBitSlot

	word, bitOffset := bitmapWord(z, freeBitSlot)
	p := pointerFromBitSlot(z, freeBitSlot)

	if p > z.userPagesEnd {
		abortf("zone[%d] bit slot %d resolved to %#x beyond user region end %#x", z.index, freeBitSlot, p, z.userPagesEnd)
	}

	if getBit(*word, bitOffset) != 0 {
		abortf("zone[%d] bit slot %d already marked in-use", z.index, freeBitSlot)
	}

	if getBit(*word, bitOffset+1) != 0 {
		checkCanary(z, p)
		*(*uint64)(unsafe.Pointer(p)) = 0
	}

	*word = setBit(*word, bitOffset)
	*word = unsetBit(*word, bitOffset+1)

	maskZonePointers(z)

	return unsafe.Pointer(p)
}

// Calloc returns a zero-filled chunk sized to hold nmemb elements of
// size bytes each, aborting on nmemb*size overflow.
func Calloc(nmemb, size uintptr) unsafe.Pointer {
	if nmemb == 0 || size == 0 {
		return nil
	}

	total := nmemb * size
	if total/nmemb != size {
		abortf("calloc overflow: %d * %d", nmemb, size)
	}

	p := Alloc(total)
	if p == nil {
		return nil
	}

	b := unsafe.Slice((*byte)(p), total)
	for i := range b {
		b[i] = 0
	}
	return p
}

// NewZone creates a dedicated zone for chunkSize and returns an opaque
// handle an embedder can later pass to AllocIn. internal marks whether
// the engine is permitted to unmap the zone's memory outright at
// process teardown (true) or must only revoke access to it (false).
//
// The returned handle is the zone's table index XORed with the root's
// zoneHandleMask, not the raw index itself, so a handle leaked to an
// attacker (a log line, a crash dump) doesn't directly hand over the
// zone table's layout. maskZoneHandle is its own inverse.
func NewZone(chunkSize uintptr, internal bool) int32 {
	initRoot()
	root.mu.Lock()
	defer root.mu.Unlock()

	z := newZone(root, chunkSize, internal)
	return maskZoneHandle(z.index)
}

// maskZoneHandle XORs a zone table index with the root's
// zoneHandleMask. Applying it twice returns the original value.
func maskZoneHandle(index int32) int32 {
	return index ^ int32(uint32(root.zoneHandleMask))
}

// AllocIn allocates from the zone previously returned by NewZone,
// bypassing the find-fit search. It returns nil if the zone cannot
// satisfy the request. It aborts if handle does not resolve to a
// zone currently in use.
func AllocIn(handle int32, size uintptr) unsafe.Pointer {
	initRoot()

	index := maskZoneHandle(handle)
	if index < 0 || index >= root.zonesUsed {
		abortf("invalid zone handle %d", handle)
	}

	return allocFromHint(&root.zones[index], size)
}
