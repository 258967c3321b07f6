package memio

import (
	"errors"
)

// ErrUnreadable is returned when an address range cannot be read.
// It deliberately carries no detail about why - a vanished object,
// an unmapped page, and a permission change all look identical to
// consumers, and none of them are fatal.
var ErrUnreadable = errors.New("memory is not readable")

// Accessor reads the memory of a foreign address space without ever
// faulting. Implementations must be safe for use from multiple
// goroutines.
type Accessor interface {
	// TryRead copies length bytes starting at address. It returns
	// ErrUnreadable if any part of the range cannot be read. It never
	// returns a short result: either all length bytes are returned
	// or the read failed.
	TryRead(address uint64, length int) ([]byte, error)

	// IsReadable reports whether the range could be read right now.
	// The answer is inherently racy; TryRead is authoritative.
	IsReadable(address uint64, length int) bool
}

// PointerBounds describes the span of plausible user-space pointers
// for the target process. Values outside the span are rejected before
// any read is attempted.
type PointerBounds struct {
	Min uint64
	Max uint64
}

// Plausible reports whether p could be a valid user-space pointer.
func (o PointerBounds) Plausible(p uint64) bool {
	return p >= o.Min && p < o.Max
}
