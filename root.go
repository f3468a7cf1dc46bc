package isoalloc

import (
	"sync"
	"unsafe"
)

// Root is the single, process-wide allocator root: the fixed-capacity
// zone table and the coarse mutex that serializes every mutating
// operation against it or any zone.
//
// Root is allocated in raw unix.Mmap memory, bracketed by two
// inaccessible guard pages, exactly like a Zone's own mappings — see
// initRoot. Accordingly every field here must be pointer-free (the
// garbage collector never scans this memory), which is also why the
// process-wide PRNG (rng, in rand.go) is a package variable rather
// than a Root field.
type Root struct {
	mu sync.Mutex

	// zones is sized one larger than MaxZones: findZoneRange
	// deliberately probes one slot past zonesUsed as a tripwire (see
	// its doc comment), and that probe must land on a real, if
	// never-initialized, Zone rather than run off the end of the array.
	zones     [MaxZones + 1]Zone
	zonesUsed int32

	zoneHandleMask uint64

	guardBelow uintptr
	guardAbove uintptr
	// selfBase/selfSize describe the pages this Root struct itself
	// lives in, between the two guard pages; destroyRoot uses selfSize
	// to release the whole mapping from guardBelow. ProtectRoot and
	// UnprotectRoot do not read them (see UnprotectRoot).
	selfBase uintptr
	selfSize uintptr
}

const rootStructSize = unsafe.Sizeof(Root{})

var (
	rootOnce sync.Once
	root     *Root
)

// initRoot lazily constructs the process-wide root: idempotent, safe
// to call from every entry point (Alloc, Free, NewZone, ...). Mirrors
// the reference implementation's "do not allow a reinitialization
// unless root is NULL" posture, implemented here with sync.Once rather
// than a checked global flag.
func initRoot() {
	rootOnce.Do(func() {
		ps := pageSize()
		size := roundUpPage(rootStructSize)

		base := mapRW(size + 2*ps)
		guardBelow := base
		selfBase := base + ps
		guardAbove := roundUpPage(selfBase + size)

		protect(guardBelow, ps, protNone)
		advise(guardBelow, ps, adviseDontNeed)
		protect(guardAbove, ps, protNone)
		advise(guardAbove, ps, adviseDontNeed)

		r := (*Root)(unsafe.Pointer(selfBase))
		r.guardBelow = guardBelow
		r.guardAbove = guardAbove
		r.selfBase = selfBase
		r.selfSize = size

		initRNG()

		for _, zoneSize := range defaultZones {
			newZone(r, uintptr(zoneSize), true)
		}

		r.zoneHandleMask = rng.next64()

		root = r
	})
}

// ProtectRoot marks the entire root structure (and with it every Zone
// struct in its table) inaccessible, freezing the allocator. The
// zones' bitmap and user mappings keep their access. Any
// subsequent allocator call faults until UnprotectRoot restores
// access. Intended for long-lived processes that want to lock the
// allocator down between hot phases.
func ProtectRoot() {
	initRoot()
	protect(uintptr(unsafe.Pointer(root)), rootStructSize, protNone)
}

// UnprotectRoot restores read-write access to the root after
// ProtectRoot. It cannot read root.selfBase/root.selfSize to do so:
// those fields live inside the very mapping ProtectRoot just made
// PROT_NONE, so reading them here would fault before Mprotect ever
// ran. unsafe.Pointer(root) is the unprotected global pointer value
// itself (equal to selfBase), and rootStructSize is a compile-time
// constant, so neither touches the protected memory.
func UnprotectRoot() {
	protect(uintptr(unsafe.Pointer(root)), rootStructSize, protReadWrite)
}

// destroyRoot tears down every zone (verifying it first) and then
// releases the root's own mapping. It is exposed as Destroy for
// embedders with an explicit teardown point; nothing calls it
// automatically, since this package defines no process destructor
// (that registration is explicitly a collaborator's concern, see
// SPEC_FULL.md).
func destroyRoot() {
	if root == nil {
		return
	}

	r := root
	r.mu.Lock()

	for i := int32(0); i < r.zonesUsed; i++ {
		z := &r.zones[i]
		unmaskZonePointers(z)
		verifyZone(z)
		destroyZone(z)
	}

	// The mutex lives inside the mapping released below, so it is
	// unlocked before that mapping goes away.
	r.mu.Unlock()
	unmap(r.guardBelow, r.selfSize+2*pageSize())

	root = nil
	rootOnce = sync.Once{}
}

// Destroy tears down the allocator: every zone is verified and then
// destroyed, and the root's own memory is released. After Destroy
// returns, the next allocator call reinitializes a fresh root.
func Destroy() {
	destroyRoot()
}
