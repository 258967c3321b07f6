package memio

import (
	"fmt"
	"sort"
	"sync"
)

// NewImage creates an empty address-space image.
func NewImage() *Image {
	return &Image{}
}

// Image is an Accessor backed by in-memory segments instead of a live
// process. Reads that touch any address outside a mapped segment fail
// with ErrUnreadable, which makes it suitable for exercising the
// scanning and traversal heuristics against synthetic memory.
type Image struct {
	mu       sync.RWMutex
	segments []imageSegment
}

type imageSegment struct {
	base  uint64
	data  []byte
	perms Perm
}

// Map places data at base with the specified permissions. Segments
// must not overlap.
func (o *Image) Map(base uint64, data []byte, perms Perm) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	end := base + uint64(len(data))
	for _, seg := range o.segments {
		if base < seg.base+uint64(len(seg.data)) && seg.base < end {
			return fmt.Errorf("segment 0x%x-0x%x overlaps existing segment at 0x%x",
				base, end, seg.base)
		}
	}

	o.segments = append(o.segments, imageSegment{
		base:  base,
		data:  data,
		perms: perms,
	})

	sort.Slice(o.segments, func(i, j int) bool {
		return o.segments[i].base < o.segments[j].base
	})

	return nil
}

// Unmap removes the segment mapped at base, simulating memory that
// the foreign process has freed.
func (o *Image) Unmap(base uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, seg := range o.segments {
		if seg.base == base {
			o.segments = append(o.segments[:i], o.segments[i+1:]...)
			return
		}
	}
}

// Poke overwrites bytes inside an existing segment, simulating the
// foreign process mutating its own structures.
func (o *Image) Poke(address uint64, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	seg, off := o.segmentFor(address, len(data))
	if seg == nil {
		return ErrUnreadable
	}

	copy(seg.data[off:], data)
	return nil
}

// TryRead implements Accessor.
func (o *Image) TryRead(address uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("read length cannot be negative - got %d", length)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	seg, off := o.segmentFor(address, length)
	if seg == nil {
		return nil, ErrUnreadable
	}

	out := make([]byte, length)
	copy(out, seg.data[off:])
	return out, nil
}

// IsReadable implements Accessor.
func (o *Image) IsReadable(address uint64, length int) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	seg, _ := o.segmentFor(address, length)
	return seg != nil
}

// Regions exposes the mapped segments in ascending order.
func (o *Image) Regions() ([]Region, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	regions := make([]Region, len(o.segments))
	for i, seg := range o.segments {
		regions[i] = Region{
			Base:  seg.base,
			Size:  uint64(len(seg.data)),
			Perms: seg.perms,
		}
	}
	return regions, nil
}

// segmentFor returns the segment wholly containing [address,
// address+length) and the offset of address within it. Callers must
// hold o.mu.
func (o *Image) segmentFor(address uint64, length int) (*imageSegment, int) {
	for i := range o.segments {
		seg := &o.segments[i]
		if address >= seg.base && address+uint64(length) <= seg.base+uint64(len(seg.data)) {
			return seg, int(address - seg.base)
		}
	}
	return nil, 0
}
