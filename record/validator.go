package record

import (
	"errors"
	"fmt"

	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
)

// Rejection reasons. All of them mean "this window is not a record",
// and none of them are fatal to the caller.
var (
	ErrIdentOutOfRange  = errors.New("identity is outside the known range")
	ErrNameHeader       = errors.New("name descriptor has implausible length or capacity")
	ErrNamePointer      = errors.New("out-of-line name pointer is not readable")
	ErrNameGrammar      = errors.New("name does not satisfy the name grammar")
	ErrHealthOutOfRange = errors.New("health field is outside 0-100")
	ErrPositionBounds   = errors.New("position is outside the world bounds")
)

const maxNameCap = 256

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Profile supplies the field offsets and ranges.
	Profile layout.Profile

	// Mem is used to chase the out-of-line name pointer. It is the
	// only dereference the validator performs beyond its input
	// window.
	Mem memio.Accessor
}

func (o ValidatorConfig) validate() error {
	err := o.Profile.Validate()
	if err != nil {
		return fmt.Errorf("invalid layout profile - %w", err)
	}

	if o.Mem == nil {
		return fmt.Errorf("memory accessor cannot be nil")
	}

	return nil
}

// NewValidator creates a Validator for the specified configuration.
func NewValidator(config ValidatorConfig) (*Validator, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Validator{
		profile: config.Profile,
		mem:     config.Mem,
		bounds:  config.Profile.PointerBounds(),
	}, nil
}

// Validator decides whether a byte window encodes a well-formed record
// and extracts its canonical fields.
//
// Validate is a pure function of the window bytes plus whatever the
// out-of-line name pointer currently resolves to. Checks run in
// cheapest-first, highest-specificity-first order so that the full
// region scanner can reject the overwhelming majority of candidate
// windows after reading just one field.
type Validator struct {
	profile layout.Profile
	mem     memio.Accessor
	bounds  memio.PointerBounds
}

// Validate checks the window, which must start at the candidate
// identity field located at address in foreign memory. The returned
// record carries identity, name, health, and address; position is
// read separately via ReadPosition because it lives far outside the
// validation window.
func (o *Validator) Validate(window memio.Window, address uint64) (Record, error) {
	if len(window) < o.profile.WindowLen {
		return Record{}, fmt.Errorf("window is %d bytes - the profile requires %d",
			len(window), o.profile.WindowLen)
	}

	ident, _ := window.Uint32(0)
	if !o.profile.IdentInRange(ident) {
		return Record{}, ErrIdentOutOfRange
	}

	nameSize, _ := window.Uint32(o.profile.NameSizeOff)
	if nameSize == 0 || nameSize > maxNameLen {
		return Record{}, ErrNameHeader
	}

	nameCap, _ := window.Uint32(o.profile.NameCapOff)
	if nameCap < nameSize || nameCap >= maxNameCap {
		return Record{}, ErrNameHeader
	}

	var name []byte
	if nameCap < o.profile.NameInlineCap {
		inline, ok := window.Bytes(o.profile.NameOff, int(nameSize))
		if !ok {
			return Record{}, ErrNameHeader
		}
		name = inline
	} else {
		ptr, _ := window.Pointer(o.profile.NameOff)
		if !o.bounds.Plausible(ptr) {
			return Record{}, ErrNamePointer
		}

		data, err := o.mem.TryRead(ptr, int(nameSize))
		if err != nil {
			return Record{}, ErrNamePointer
		}
		name = data
	}

	if !ValidName(name) {
		return Record{}, ErrNameGrammar
	}

	health, _ := window.Uint32(o.profile.HealthOff)
	if health > 100 {
		return Record{}, ErrHealthOutOfRange
	}

	return Record{
		Ident:  ident,
		Name:   string(name),
		Health: uint8(health),
		Addr:   address,
	}, nil
}

// ReadPosition reads the 3-tuple spatial coordinate of the record
// whose identity field lives at address. The record matching
// selfIdent stores its position at a different offset than all
// others. A selfIdent of zero means no record is marked as self.
func (o *Validator) ReadPosition(address uint64, ident uint32, selfIdent uint32) (x, y, z uint32, err error) {
	off := o.profile.PosOff
	if selfIdent != 0 && ident == selfIdent {
		off = o.profile.SelfPosOff
	}

	window, err := o.mem.TryRead(uint64(int64(address)+off), 12)
	if err != nil {
		return 0, 0, 0, err
	}

	w := memio.Window(window)
	x, _ = w.Uint32(0)
	y, _ = w.Uint32(4)
	z, _ = w.Uint32(8)

	if x > o.profile.MaxX || y > o.profile.MaxY || z > o.profile.MaxZ {
		return 0, 0, 0, ErrPositionBounds
	}

	return x, y, z, nil
}

// Profile returns the layout profile the validator was built with.
func (o *Validator) Profile() layout.Profile {
	return o.profile
}
