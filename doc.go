// Package isoalloc is a hardened, fixed-size-class, bitmap-managed,
// zoned memory allocator.
//
// Allocations are drawn from a zone: a pool of contiguous virtual
// memory dedicated to a single chunk size. Each zone's metadata (a
// bitmap tracking two bits of state per chunk) is physically separated
// from the chunks it describes and bracketed on both sides by
// inaccessible guard pages, as is the zone's user-chunk mapping itself.
// A single package-level root holds the table of zones and a coarse
// lock that serializes every mutating operation.
//
// Allocating walks a short escalation ladder: consult the requested
// zone's (or the first fitting zone's) free-slot cache, refill that
// cache with a biased scan of the bitmap if it's empty, fall back to a
// full bitmap scan if the cache can't be refilled, and create a new
// zone only if no existing zone has room. Freeing resolves the pointer
// back to its owning zone by range search, validates alignment and
// chunk-stride, updates the bitmap, poisons the chunk, writes a canary
// bound to the chunk's own address, and opportunistically checks the
// canaries of both neighboring chunks.
//
// Every chunk that has ever been freed carries a canary: an 8-byte
// value derived from the zone's secret XOR'd with the chunk's address,
// written at both ends of the chunk. Reallocating a previously-freed
// chunk verifies that canary before handing the chunk back out, which
// catches a write to a dangling pointer between the free and the
// reuse. In every zone whose chunk size is at most MaxDefaultZoneSize,
// a small fraction of the chunks are permanently reserved as "canary
// chunks": never allocated, always bearing a
// canary, there only to be found and corrupted by an attacker
// scanning the heap for predictable-looking free chunks.
//
// Any detected corruption — a bad canary, a double free, a misaligned
// or out-of-zone pointer, a duplicate entry in a free-slot cache — is
// treated as an active exploitation attempt and aborts the process
// rather than returning an error. This package does not expose a
// standard malloc/calloc/realloc/free shim; that thin naming adapter,
// along with leak-detection tooling and process-constructor
// registration, is left to a caller that wants to present this
// allocator as a drop-in C-style API.
package isoalloc
