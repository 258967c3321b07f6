// Package layout describes where the interesting fields of the foreign
// process's structures live. Every offset is late-bound configuration:
// the host's internal layout shifts between host builds, so nothing in
// this module treats a field offset as a compile-time constant.
package layout

import (
	"fmt"

	"gitlab.com/stephen-fox/trackit/memio"
)

// Profile is one complete description of a host build's layout plus
// the tunable limits of the tracking engine.
//
// Record field offsets are relative to the record's identity field,
// which is the anchor the scanners probe for. Node field offsets are
// relative to the start of an ordered-index tree node.
type Profile struct {
	// Identity range. An unsigned value inside the range is treated
	// as a candidate record identity.
	IdentMin uint32 `mapstructure:"ident_min" yaml:"ident_min"`
	IdentMax uint32 `mapstructure:"ident_max" yaml:"ident_max"`

	// Short-string descriptor embedded in the record. The string is
	// stored inline while its capacity is below NameInlineCap and
	// out-of-line (first field becomes a pointer) at or above it.
	NameOff       int    `mapstructure:"name_off" yaml:"name_off"`
	NameSizeOff   int    `mapstructure:"name_size_off" yaml:"name_size_off"`
	NameCapOff    int    `mapstructure:"name_cap_off" yaml:"name_cap_off"`
	NameInlineCap uint32 `mapstructure:"name_inline_cap" yaml:"name_inline_cap"`

	HealthOff int `mapstructure:"health_off" yaml:"health_off"`

	// WindowLen is the number of bytes read around a candidate
	// identity field to validate it.
	WindowLen int `mapstructure:"window_len" yaml:"window_len"`

	// Spatial coordinate offsets from the identity field. The record
	// marked as "self" stores its position at a different offset than
	// every other record.
	PosOff     int64 `mapstructure:"pos_off" yaml:"pos_off"`
	SelfPosOff int64 `mapstructure:"self_pos_off" yaml:"self_pos_off"`

	MaxX uint32 `mapstructure:"max_x" yaml:"max_x"`
	MaxY uint32 `mapstructure:"max_y" yaml:"max_y"`
	MaxZ uint32 `mapstructure:"max_z" yaml:"max_z"`

	// Plausible user-space pointer span for the target.
	PtrMin uint64 `mapstructure:"ptr_min" yaml:"ptr_min"`
	PtrMax uint64 `mapstructure:"ptr_max" yaml:"ptr_max"`

	// Ordered-index tree node layout.
	NodeLeftOff   int `mapstructure:"node_left_off" yaml:"node_left_off"`
	NodeParentOff int `mapstructure:"node_parent_off" yaml:"node_parent_off"`
	NodeRightOff  int `mapstructure:"node_right_off" yaml:"node_right_off"`
	NodeIsNilOff  int `mapstructure:"node_is_nil_off" yaml:"node_is_nil_off"`
	NodeKeyOff    int `mapstructure:"node_key_off" yaml:"node_key_off"`
	NodeValueOff  int `mapstructure:"node_value_off" yaml:"node_value_off"`
	NodeWindowLen int `mapstructure:"node_window_len" yaml:"node_window_len"`

	// Value-object validation: the tree maps identities to pointers
	// to a richer object whose first field is a type tag inside
	// [TypeTagMin, TypeTagMax) and whose own identity field lives at
	// ObjIdentOff. The node key is only a hint; the object's identity
	// is authoritative.
	TypeTagOff  int    `mapstructure:"type_tag_off" yaml:"type_tag_off"`
	TypeTagMin  uint64 `mapstructure:"type_tag_min" yaml:"type_tag_min"`
	TypeTagMax  uint64 `mapstructure:"type_tag_max" yaml:"type_tag_max"`
	ObjIdentOff int64  `mapstructure:"obj_ident_off" yaml:"obj_ident_off"`

	// Engine limits.
	MaxRecords   int `mapstructure:"max_records" yaml:"max_records"`
	MaxTreeNodes int `mapstructure:"max_tree_nodes" yaml:"max_tree_nodes"`
	LookupBound  int `mapstructure:"lookup_bound" yaml:"lookup_bound"`

	// SampleNodes is how many nodes container validation walks before
	// accepting a candidate. Cheapness and confidence pull in opposite
	// directions here, which is why it is tunable.
	SampleNodes int `mapstructure:"sample_nodes" yaml:"sample_nodes"`
}

// Default returns the profile for the host build this module was
// originally developed against: a 32-bit little-endian process with
// a 24-byte small-string-optimized name field.
func Default() Profile {
	return Profile{
		IdentMin:      0x10000000,
		IdentMax:      0x80000000,
		NameOff:       4,
		NameSizeOff:   20,
		NameCapOff:    24,
		NameInlineCap: 16,
		HealthOff:     28,
		WindowLen:     32,
		PosOff:        576,
		SelfPosOff:    -40,
		MaxX:          65535,
		MaxY:          65535,
		MaxZ:          15,
		PtrMin:        0x10000,
		PtrMax:        0x7ffe0000,
		NodeLeftOff:   0,
		NodeParentOff: 4,
		NodeRightOff:  8,
		NodeIsNilOff:  13,
		NodeKeyOff:    16,
		NodeValueOff:  20,
		NodeWindowLen: 24,
		TypeTagOff:    0,
		TypeTagMin:    0x400000,
		TypeTagMax:    0x800000,
		ObjIdentOff:   8,
		MaxRecords:    200,
		MaxTreeNodes:  500,
		LookupBound:   30,
		SampleNodes:   3,
	}
}

// Validate checks that the profile is internally consistent.
func (o Profile) Validate() error {
	if o.IdentMin >= o.IdentMax {
		return fmt.Errorf("identity range minimum (0x%x) must be below maximum (0x%x)",
			o.IdentMin, o.IdentMax)
	}

	if o.WindowLen < 4 {
		return fmt.Errorf("window length must be at least 4 bytes - got %d", o.WindowLen)
	}

	for _, field := range []struct {
		name string
		off  int
	}{
		{"name offset", o.NameOff},
		{"name size offset", o.NameSizeOff},
		{"name capacity offset", o.NameCapOff},
		{"health offset", o.HealthOff},
	} {
		if field.off < 0 || field.off+4 > o.WindowLen {
			return fmt.Errorf("%s (%d) does not fit the %d byte window",
				field.name, field.off, o.WindowLen)
		}
	}

	if o.PtrMin >= o.PtrMax {
		return fmt.Errorf("pointer range minimum (0x%x) must be below maximum (0x%x)",
			o.PtrMin, o.PtrMax)
	}

	if o.NodeWindowLen < 4 {
		return fmt.Errorf("node window length must be at least 4 bytes - got %d",
			o.NodeWindowLen)
	}

	for _, field := range []struct {
		name string
		off  int
		n    int
	}{
		{"node left offset", o.NodeLeftOff, 4},
		{"node parent offset", o.NodeParentOff, 4},
		{"node right offset", o.NodeRightOff, 4},
		{"node is-nil offset", o.NodeIsNilOff, 1},
		{"node key offset", o.NodeKeyOff, 4},
		{"node value offset", o.NodeValueOff, 4},
	} {
		if field.off < 0 || field.off+field.n > o.NodeWindowLen {
			return fmt.Errorf("%s (%d) does not fit the %d byte node window",
				field.name, field.off, o.NodeWindowLen)
		}
	}

	if o.MaxRecords <= 0 {
		return fmt.Errorf("maximum record count must be greater than zero - got %d",
			o.MaxRecords)
	}

	if o.MaxTreeNodes <= 0 {
		return fmt.Errorf("maximum tree node count must be greater than zero - got %d",
			o.MaxTreeNodes)
	}

	if o.LookupBound <= 0 {
		return fmt.Errorf("lookup iteration bound must be greater than zero - got %d",
			o.LookupBound)
	}

	if o.SampleNodes <= 0 {
		return fmt.Errorf("container validation sample size must be greater than zero - got %d",
			o.SampleNodes)
	}

	return nil
}

// PointerBounds returns the profile's pointer span in the form the
// memory accessor helpers consume.
func (o Profile) PointerBounds() memio.PointerBounds {
	return memio.PointerBounds{
		Min: o.PtrMin,
		Max: o.PtrMax,
	}
}

// IdentInRange reports whether v lies in the identity range.
func (o Profile) IdentInRange(v uint32) bool {
	return v >= o.IdentMin && v < o.IdentMax
}
