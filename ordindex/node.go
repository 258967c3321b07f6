package ordindex

import (
	"errors"

	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
)

var (
	// ErrNotFound is returned when a key is not present in the
	// container, or when the container cannot be trusted enough to
	// answer.
	ErrNotFound = errors.New("key not found in ordered index")

	// ErrInvalidContainer is returned when a candidate or previously
	// trusted container violates a structural invariant.
	ErrInvalidContainer = errors.New("container failed structural validation")
)

// Handle is an opaque reference to a confirmed container header.
// It survives session boundaries and is only discarded when a
// traversal disproves it.
type Handle struct {
	Header uint64
}

// Valid reports whether the handle refers to a container.
func (o Handle) Valid() bool {
	return o.Header != 0
}

// header is the container's two-field preamble: a pointer to the
// sentinel node and the element count.
type header struct {
	sentinel uint64
	count    uint32
}

// node is one tree node, read as a single fixed-size window so its
// fields are mutually consistent. Children that would be nil point at
// the sentinel node, which is the only node with the is-nil marker
// set.
type node struct {
	addr   uint64
	left   uint64
	parent uint64
	right  uint64
	value  uint64
	key    uint32
	isNil  bool
}

// treeReader reads tree structure through the safe accessor.
type treeReader struct {
	mem     memio.Accessor
	profile layout.Profile
	bounds  memio.PointerBounds
}

func newTreeReader(mem memio.Accessor, profile layout.Profile) treeReader {
	return treeReader{
		mem:     mem,
		profile: profile,
		bounds:  profile.PointerBounds(),
	}
}

func (o treeReader) header(addr uint64) (header, error) {
	raw, err := o.mem.TryRead(addr, 8)
	if err != nil {
		return header{}, err
	}

	w := memio.Window(raw)
	sentinel, _ := w.Pointer(0)
	count, _ := w.Uint32(4)

	return header{
		sentinel: sentinel,
		count:    count,
	}, nil
}

func (o treeReader) node(addr uint64) (node, error) {
	if !o.bounds.Plausible(addr) {
		return node{}, memio.ErrUnreadable
	}

	raw, err := o.mem.TryRead(addr, o.profile.NodeWindowLen)
	if err != nil {
		return node{}, err
	}

	w := memio.Window(raw)

	n := node{addr: addr}
	n.left, _ = w.Pointer(o.profile.NodeLeftOff)
	n.parent, _ = w.Pointer(o.profile.NodeParentOff)
	n.right, _ = w.Pointer(o.profile.NodeRightOff)
	n.value, _ = w.Pointer(o.profile.NodeValueOff)
	n.key, _ = w.Uint32(o.profile.NodeKeyOff)

	isNil, _ := w.Byte(o.profile.NodeIsNilOff)
	n.isNil = isNil != 0

	return n, nil
}

// leftmostFrom descends left links from n until it reaches a node
// whose left child is the sentinel.
func (o treeReader) leftmostFrom(n node) (node, error) {
	for i := 0; i < o.profile.MaxTreeNodes; i++ {
		left, err := o.node(n.left)
		if err != nil {
			return node{}, err
		}

		if left.isNil {
			return n, nil
		}

		n = left
	}

	return node{}, ErrInvalidContainer
}

// successor advances to the in-order successor of n: the leftmost
// node of the right subtree when one exists, otherwise the first
// ancestor reached via a left-child link. Arriving back at the
// sentinel means the traversal is complete.
func (o treeReader) successor(n node) (node, error) {
	right, err := o.node(n.right)
	if err != nil {
		return node{}, err
	}

	if !right.isNil {
		return o.leftmostFrom(right)
	}

	child := n
	for i := 0; i < o.profile.MaxTreeNodes; i++ {
		parent, err := o.node(child.parent)
		if err != nil {
			return node{}, err
		}

		if parent.isNil || child.addr != parent.right {
			return parent, nil
		}

		child = parent
	}

	return node{}, ErrInvalidContainer
}
