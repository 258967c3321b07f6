package ordindex

import (
	"fmt"
)

// validateContainer decides whether headerAddr points at a plausible
// container. It deliberately samples only a few nodes (the profile's
// SampleNodes) instead of walking the whole tree: discovery runs this
// against many candidates, and a full walk per candidate would defeat
// the purpose of a cheap pass. The trade-off is tunable, not proven -
// raise SampleNodes when the target's heap is adversarial or heavily
// fragmented.
func (o treeReader) validateContainer(headerAddr uint64) error {
	hdr, err := o.header(headerAddr)
	if err != nil {
		return fmt.Errorf("%w - header at 0x%x is unreadable", ErrInvalidContainer, headerAddr)
	}

	if hdr.count == 0 || hdr.count > uint32(o.profile.MaxTreeNodes) {
		return fmt.Errorf("%w - element count %d is outside (0, %d]",
			ErrInvalidContainer, hdr.count, o.profile.MaxTreeNodes)
	}

	if !o.bounds.Plausible(hdr.sentinel) {
		return fmt.Errorf("%w - sentinel pointer 0x%x is not plausible",
			ErrInvalidContainer, hdr.sentinel)
	}

	sentinel, err := o.node(hdr.sentinel)
	if err != nil {
		return fmt.Errorf("%w - sentinel at 0x%x is unreadable",
			ErrInvalidContainer, hdr.sentinel)
	}

	if !sentinel.isNil {
		return fmt.Errorf("%w - sentinel at 0x%x does not carry the is-nil marker",
			ErrInvalidContainer, hdr.sentinel)
	}

	for _, ptr := range []uint64{sentinel.left, sentinel.parent, sentinel.right} {
		if !o.bounds.Plausible(ptr) {
			return fmt.Errorf("%w - sentinel link 0x%x is not plausible",
				ErrInvalidContainer, ptr)
		}
	}

	// Walk a bounded sample via in-order successor and require at
	// least one visited key to lie in the identity range.
	cur, err := o.node(sentinel.left)
	if err != nil {
		return fmt.Errorf("%w - leftmost node is unreadable", ErrInvalidContainer)
	}

	sawKey := false

	for i := 0; i < o.profile.SampleNodes; i++ {
		if cur.isNil {
			break
		}

		if o.profile.IdentInRange(cur.key) {
			sawKey = true
		}

		cur, err = o.successor(cur)
		if err != nil {
			return fmt.Errorf("%w - sampled walk failed", ErrInvalidContainer)
		}
	}

	if !sawKey {
		return fmt.Errorf("%w - no sampled key lies in the identity range",
			ErrInvalidContainer)
	}

	return nil
}
