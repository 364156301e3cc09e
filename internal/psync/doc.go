// Package psync provides process-aware synchronization primitives.
//
// Each primitive records the process id it was created under and lazily
// rebuilds its inner object whenever the current process id differs. A copy
// of a primitive carried into another process generation is therefore never
// used: the first operation in the new process replaces it. In a normal Go
// process the pid never changes and the rebuild path is idle, but hosts
// that hand state to a re-executed companion process (and tests) can swap
// the pid source to exercise it.
//
// Rebuilds are double-checked under a package-wide guard with a bounded
// wait; a stale guard can only stall an operation, never deadlock it
// permanently. The very first touch of a primitive tolerates a benign race:
// two callers may build the inner object twice and one copy is discarded.
package psync
