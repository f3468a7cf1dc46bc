package isoalloc

import (
	"fmt"
	"os"
)

// abortf reports a diagnostic for a detected corruption or resource
// exhaustion condition and panics with it. Nothing in this package
// recovers that panic, so unless a caller does, it terminates the
// process. Every corruption
// signal in the allocator's fast paths routes through here rather than
// returning an error: per the package's threat model, an observed
// anomaly is treated as an active exploitation attempt, and returning
// control to the caller would hand the attacker a recovery primitive.
//
// Routing the actual diagnostic somewhere other than stderr (syslog, a
// supervisor, a metrics pipe) is a concern for the embedder, not this
// package.
func abortf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "isoalloc: fatal: "+format+"\n", args...)
	panic(fmt.Sprintf(format, args...))
}

// logf reports a diagnostic without aborting. It exists only to back
// the no-abort variants of integrity checks (checkCanaryNoAbort) that
// diagnostic pollers use to inspect allocator health without wanting
// to terminate the process on the first bad canary they find.
func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "isoalloc: "+format+"\n", args...)
}
