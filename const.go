package isoalloc

// ABI constants. Values match the reference implementation; an
// embedder that needs different tuning may change them, but changing
// them changes the ABI between zones created before and after the
// change (a zone's layout is fixed at creation time).
const (
	// Alignment is the minimum alignment of every pointer this
	// package returns.
	Alignment = 8

	// BitsPerChunk is the number of bitmap state bits each chunk
	// occupies: bit 0 marks the chunk in use, bit 1 marks it as
	// previously used and carrying a canary, and both set marks a
	// permanent canary chunk.
	BitsPerChunk = 2

	// BitsPerDword is the width, in bits, of one bitmap word.
	BitsPerDword = 32

	// ChunksPerDword is how many chunk-state pairs fit in one bitmap
	// word.
	ChunksPerDword = BitsPerDword / BitsPerChunk

	// ZoneUserSize is the size, in bytes, of the user-chunk mapping
	// every zone owns.
	ZoneUserSize = 4 << 20 // 4 MiB

	// MaxZones bounds the root's zone table.
	MaxZones = 2048

	// BitSlotCacheSize is the length of each zone's free-slot cache.
	BitSlotCacheSize = 255

	// CanaryCountDiv controls canary-chunk density: roughly
	// 1/CanaryCountDiv of a zone's chunks are reserved as permanent
	// canaries at creation time.
	CanaryCountDiv = 100

	// WastedSzMultiplier bounds how much larger a candidate zone's
	// chunk size may be than the requested size before a dedicated,
	// right-sized zone is created instead.
	WastedSzMultiplier = 8

	// Zone1024 is the request size at or below which the waste-avoidance check in
	// isZoneUsable is disabled (small requests always prefer reusing
	// an existing zone over fragmenting a new one).
	Zone1024 = 1024

	// PoisonByte fills a chunk's body when it is freed.
	PoisonByte = 0xDE

	// CanarySize is the width, in bytes, of a canary value.
	CanarySize = 8

	// BadBitSlot is the sentinel stored in empty free-slot cache
	// entries and returned when no free slot is available.
	BadBitSlot int64 = -1

	// MaxDefaultZoneSize is the largest chunk size that still gets
	// canary chunks carved out at creation (larger, dedicated zones
	// would waste too much memory on them).
	MaxDefaultZoneSize = 8192
)

// defaultZones are the chunk sizes a freshly-initialized root creates
// zones for up front. A request that doesn't fit any existing zone is
// satisfied by creating a new zone sized to the first entry here it
// fits, or, beyond the largest entry, a zone sized to exactly the
// request (rounded up to Alignment).
var defaultZones = [...]uint32{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}
