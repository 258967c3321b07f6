// Package record defines the target record shape and the validator
// that decides whether a window of foreign memory encodes one.
package record

import (
	"fmt"
)

// Record is one discovered target entity.
//
// The identity is immutable once assigned by the host and doubles as
// a type and liveness tag. The address is where the identity field was
// found and may become stale at any time without notice - consumers
// must re-validate before trusting any non-identity field.
type Record struct {
	Ident  uint32 `json:"id"`
	Name   string `json:"name"`
	Health uint8  `json:"hp"`
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Z      uint32 `json:"z"`
	Addr   uint64 `json:"-"`
}

func (o Record) String() string {
	return fmt.Sprintf("0x%08x %q hp=%d pos=(%d,%d,%d) addr=0x%x",
		o.Ident, o.Name, o.Health, o.X, o.Y, o.Z, o.Addr)
}
