package memio

// Perm describes the protection of a memory region.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Has reports whether all permissions in p are present.
func (o Perm) Has(p Perm) bool {
	return o&p == p
}

func (o Perm) String() string {
	b := []byte("---")
	if o.Has(PermRead) {
		b[0] = 'r'
	}
	if o.Has(PermWrite) {
		b[1] = 'w'
	}
	if o.Has(PermExec) {
		b[2] = 'x'
	}
	return string(b)
}

// Region is one committed span of the foreign address space.
type Region struct {
	Base  uint64
	Size  uint64
	Perms Perm
}

// End returns the first address past the region.
func (o Region) End() uint64 {
	return o.Base + o.Size
}

// RegionsFunc enumerates the committed regions of an address space in
// ascending base-address order.
type RegionsFunc func() ([]Region, error)
