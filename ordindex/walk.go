package ordindex

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/record"
)

// errNodeRejected marks a node that is structurally reachable but
// whose value does not check out - routine churn, not a container
// failure.
var errNodeRejected = errors.New("node value rejected")

// WalkerConfig configures a Walker.
type WalkerConfig struct {
	// Mem reads the foreign address space.
	Mem memio.Accessor

	// Validator re-derives records from the value objects the tree
	// points at.
	Validator *record.Validator

	// Verbose optionally logs rejected nodes.
	Verbose *log.Logger
}

func (o WalkerConfig) validate() error {
	if o.Mem == nil {
		return fmt.Errorf("memory accessor cannot be nil")
	}

	if o.Validator == nil {
		return fmt.Errorf("record validator cannot be nil")
	}

	return nil
}

// NewWalker creates a Walker for the specified configuration.
func NewWalker(config WalkerConfig) (*Walker, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Walker{
		config: config,
		tr:     newTreeReader(config.Mem, config.Validator.Profile()),
	}, nil
}

// Walker traverses a confirmed container and performs point lookups.
type Walker struct {
	config WalkerConfig
	tr     treeReader
}

// WalkAll performs a full in-order traversal, re-deriving a record
// from each node's value object. The tree's key is a hint, not
// authoritative: the identity read from the object must equal the key
// or the node is skipped.
//
// A failure to read tree structure, or a traversal that does not
// come back around to the sentinel within the node bound, returns an
// error and no records - partial results are never presented as
// complete.
func (o *Walker) WalkAll(h Handle, selfIdent uint32) ([]record.Record, error) {
	profile := o.tr.profile

	hdr, err := o.tr.header(h.Header)
	if err != nil {
		return nil, fmt.Errorf("%w - header is unreadable", ErrInvalidContainer)
	}

	sentinel, err := o.tr.node(hdr.sentinel)
	if err != nil || !sentinel.isNil {
		return nil, fmt.Errorf("%w - sentinel is unreadable or unmarked", ErrInvalidContainer)
	}

	first, err := o.tr.node(sentinel.left)
	if err != nil {
		return nil, fmt.Errorf("%w - leftmost node is unreadable", ErrInvalidContainer)
	}

	if !first.isNil {
		first, err = o.tr.leftmostFrom(first)
		if err != nil {
			return nil, err
		}
	}

	var out []record.Record

	cur := first
	for i := 0; i < profile.MaxTreeNodes; i++ {
		if cur.isNil {
			return out, nil
		}

		rec, err := o.deriveRecord(cur, selfIdent)
		switch {
		case err == nil:
			out = append(out, rec)
			if len(out) >= profile.MaxRecords {
				return out, nil
			}
		case errors.Is(err, errNodeRejected):
			if o.config.Verbose != nil {
				o.config.Verbose.Printf("skipping node 0x%x (key 0x%x) - %s",
					cur.addr, cur.key, err)
			}
		default:
			return nil, err
		}

		cur, err = o.tr.successor(cur)
		if err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w - traversal did not terminate within %d nodes",
		ErrInvalidContainer, profile.MaxTreeNodes)
}

// Find descends from the root looking for key and returns the node's
// value pointer after validating the value object. Iterations are
// bounded - generous for a balanced tree of the permitted size, but a
// guarantee of termination against a corrupted one. Every anomaly
// maps to ErrNotFound.
func (o *Walker) Find(h Handle, key uint32) (uint64, error) {
	hdr, err := o.tr.header(h.Header)
	if err != nil {
		return 0, ErrNotFound
	}

	sentinel, err := o.tr.node(hdr.sentinel)
	if err != nil || !sentinel.isNil {
		return 0, ErrNotFound
	}

	cur := sentinel.parent

	for i := 0; i < o.tr.profile.LookupBound; i++ {
		n, err := o.tr.node(cur)
		if err != nil || n.isNil {
			return 0, ErrNotFound
		}

		switch {
		case key == n.key:
			_, err := o.deriveRecord(n, 0)
			if err != nil {
				return 0, ErrNotFound
			}
			return n.value, nil
		case key < n.key:
			cur = n.left
		default:
			cur = n.right
		}
	}

	return 0, ErrNotFound
}

// deriveRecord rebuilds a record from a node's value object. The
// object's first field must carry a type tag in the configured range,
// and the identity read from the object itself must match the node
// key.
func (o *Walker) deriveRecord(n node, selfIdent uint32) (record.Record, error) {
	profile := o.tr.profile

	if !profile.IdentInRange(n.key) {
		return record.Record{}, fmt.Errorf("%w - key 0x%x outside identity range",
			errNodeRejected, n.key)
	}

	if !o.tr.bounds.Plausible(n.value) {
		return record.Record{}, fmt.Errorf("%w - value pointer 0x%x not plausible",
			errNodeRejected, n.value)
	}

	rawTag, err := o.config.Mem.TryRead(uint64(int64(n.value)+int64(profile.TypeTagOff)), 4)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w - type tag unreadable", errNodeRejected)
	}

	tag, _ := memio.Window(rawTag).Uint32(0)
	if uint64(tag) < profile.TypeTagMin || uint64(tag) >= profile.TypeTagMax {
		return record.Record{}, fmt.Errorf("%w - type tag 0x%x outside valid range",
			errNodeRejected, tag)
	}

	identAddr := uint64(int64(n.value) + profile.ObjIdentOff)

	window, err := o.config.Mem.TryRead(identAddr, profile.WindowLen)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w - value object unreadable", errNodeRejected)
	}

	rec, err := o.config.Validator.Validate(window, identAddr)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w - %s", errNodeRejected, err)
	}

	if rec.Ident != n.key {
		return record.Record{}, fmt.Errorf("%w - object identity 0x%x does not match key 0x%x",
			errNodeRejected, rec.Ident, n.key)
	}

	x, y, z, err := o.config.Validator.ReadPosition(rec.Addr, rec.Ident, selfIdent)
	if err == nil {
		rec.X, rec.Y, rec.Z = x, y, z
	}

	return rec, nil
}
