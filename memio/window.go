package memio

import (
	"encoding/binary"
)

// Window is a copy of a fixed-size span of foreign memory. Decoding
// helpers are bounds-checked and little-endian, matching the 32-bit
// targets this module was built for.
type Window []byte

// Uint32 decodes the unsigned 32-bit value at off. The second return
// value is false if the window is too small.
func (o Window) Uint32(off int) (uint32, bool) {
	if off < 0 || off+4 > len(o) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(o[off:]), true
}

// Uint16 decodes the unsigned 16-bit value at off.
func (o Window) Uint16(off int) (uint16, bool) {
	if off < 0 || off+2 > len(o) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(o[off:]), true
}

// Byte returns the byte at off.
func (o Window) Byte(off int) (byte, bool) {
	if off < 0 || off >= len(o) {
		return 0, false
	}
	return o[off], true
}

// Pointer decodes a 32-bit little-endian pointer at off, widened to
// uint64 for address arithmetic.
func (o Window) Pointer(off int) (uint64, bool) {
	v, ok := o.Uint32(off)
	return uint64(v), ok
}

// Bytes returns the n bytes starting at off.
func (o Window) Bytes(off int, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off+n > len(o) {
		return nil, false
	}
	return o[off : off+n], true
}
