package isoalloc

import "unsafe"

// alignIdxDown aligns a bitmap word index down to a 4-word boundary.
// This mirrors the reference implementation's ALIGN_SZ_DOWN applied to
// a randomly chosen bitmap index before scanning from it; the exact
// alignment granularity only affects where a scan starts, never
// correctness.
func alignIdxDown(idx int32) int32 {
	return idx &^ 3
}

// getBit returns the value (0 or 1) of bit k of word.
func getBit(word uint32, k uint32) uint32 {
	return (word >> k) & 1
}

// setBit returns word with bit k set to 1.
func setBit(word uint32, k uint32) uint32 {
	return word | (1 << k)
}

// unsetBit returns word with bit k set to 0.
func unsetBit(word uint32, k uint32) uint32 {
	return word &^ (1 << k)
}

// bitmapWord returns a pointer to the bitmap word containing bitSlot,
// and the bit offset of bitSlot's pair within that word.
func bitmapWord(z *Zone, bitSlot int64) (word *uint32, bitOffset uint32) {
	dwordIdx := bitSlot / int64(BitsPerDword)
	word = (*uint32)(unsafe.Pointer(z.bitmapStart + uintptr(dwordIdx)*4))
	bitOffset = uint32(bitSlot % int64(BitsPerDword))
	return word, bitOffset
}

// pointerFromBitSlot translates a bit-slot index into the address of
// the chunk it describes.
func pointerFromBitSlot(z *Zone, bitSlot int64) uintptr {
	chunkIdx := uintptr(bitSlot / int64(BitsPerChunk))
	return z.userPagesStart + chunkIdx*z.chunkSize
}

// bitSlotFromPointer translates a chunk address back into its bit-slot
// index. p must already be known to be chunkSize-aligned within the
// zone's user region.
func bitSlotFromPointer(z *Zone, p uintptr) int64 {
	chunkIdx := (p - z.userPagesStart) / z.chunkSize
	return int64(chunkIdx) * int64(BitsPerChunk)
}
