// Package memio provides fault-tolerant access to the memory of a foreign
// process whose internal layout is not known ahead of time.
//
// The Accessor interface is the foundation of every component in this
// module: nothing above it dereferences a foreign address directly.
// An Accessor must never surface a fault to its caller - an entirely
// invalid address simply produces ErrUnreadable, which callers treat
// the same way as "this object is gone".
//
// Window wraps a byte slice copied out of foreign memory and decodes
// fixed-size fields at configurable offsets. Fields of one logical
// object should be read through a single Window so that they are
// consistent with one another even when the underlying memory is
// being mutated by the foreign process.
//
// Image implements Accessor over an in-memory address-space image.
// It exists so that scanning and traversal heuristics can be exercised
// against synthetic memory in tests without a live process.
package memio
