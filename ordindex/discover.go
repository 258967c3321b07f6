package ordindex

import (
	"fmt"
	"log"

	"golang.org/x/arch/x86/x86asm"
	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
)

// CodeHint points discovery at the code of a host function known to
// touch the container. A zero Address skips the code phase.
type CodeHint struct {
	Address uint64
	Length  int
}

// DiscovererConfig configures a Discoverer.
type DiscovererConfig struct {
	// Mem reads the foreign address space.
	Mem memio.Accessor

	// Regions enumerates committed regions for the data-scan phase.
	Regions memio.RegionsFunc

	// Profile supplies node layout, pointer bounds, and limits.
	Profile layout.Profile

	// Verbose optionally logs candidates as they are tested.
	Verbose *log.Logger
}

func (o DiscovererConfig) validate() error {
	if o.Mem == nil {
		return fmt.Errorf("memory accessor cannot be nil")
	}

	if o.Regions == nil {
		return fmt.Errorf("regions function cannot be nil")
	}

	err := o.Profile.Validate()
	if err != nil {
		return fmt.Errorf("invalid layout profile - %w", err)
	}

	return nil
}

// NewDiscoverer creates a Discoverer for the specified configuration.
func NewDiscoverer(config DiscovererConfig) (*Discoverer, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Discoverer{
		config: config,
		tr:     newTreeReader(config.Mem, config.Profile),
	}, nil
}

// Discoverer heuristically locates the container. Discovery against
// an unchanged, valid container is idempotent: it lands on the same
// header address every time.
type Discoverer struct {
	config DiscovererConfig
	tr     treeReader
}

// Discover runs the code-operand phase (when a hint is supplied)
// followed by the data-scan phase. It returns ErrNotFound when
// neither phase produces a candidate that survives validation.
func (o *Discoverer) Discover(hint CodeHint) (Handle, error) {
	if hint.Address != 0 {
		h, found := o.discoverViaCode(hint)
		if found {
			return h, nil
		}
	}

	return o.discoverViaData()
}

// discoverViaCode decodes the hinted function's code and collects
// absolute direct-memory operands as candidate addresses. Each
// candidate is tested both as a container header and - because the
// function may reference a pointer-to-container global rather than
// the container itself - as a cell holding a pointer to one.
func (o *Discoverer) discoverViaCode(hint CodeHint) (Handle, bool) {
	code, err := o.config.Mem.TryRead(hint.Address, hint.Length)
	if err != nil {
		return Handle{}, false
	}

	var candidates []uint64
	seen := make(map[uint64]struct{})

	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 32)
		if err != nil {
			off++
			continue
		}

		for _, arg := range inst.Args {
			mem, isMem := arg.(x86asm.Mem)
			if !isMem || mem.Base != 0 || mem.Index != 0 {
				continue
			}

			cand := uint64(uint32(mem.Disp))
			if !o.tr.bounds.Plausible(cand) {
				continue
			}

			if _, dup := seen[cand]; dup {
				continue
			}
			seen[cand] = struct{}{}

			candidates = append(candidates, cand)
		}

		off += inst.Len
	}

	if o.config.Verbose != nil {
		o.config.Verbose.Printf("code phase collected %d candidate operands", len(candidates))
	}

	for _, cand := range candidates {
		if o.tr.validateContainer(cand) == nil {
			return Handle{Header: cand}, true
		}

		raw, err := o.config.Mem.TryRead(cand, 4)
		if err != nil {
			continue
		}

		deref, _ := memio.Window(raw).Pointer(0)
		if !o.tr.bounds.Plausible(deref) {
			continue
		}

		if o.tr.validateContainer(deref) == nil {
			return Handle{Header: deref}, true
		}
	}

	return Handle{}, false
}

// discoverViaData sweeps writable regions for any 8-byte window whose
// first half looks like a heap pointer and whose second half looks
// like a small positive count, validating each hit as a header.
func (o *Discoverer) discoverViaData() (Handle, error) {
	regions, err := o.config.Regions()
	if err != nil {
		return Handle{}, fmt.Errorf("failed to enumerate memory regions - %w", err)
	}

	for _, region := range regions {
		if !region.Perms.Has(memio.PermRead|memio.PermWrite) || region.Perms.Has(memio.PermExec) {
			continue
		}

		for page := region.Base; page < region.End(); page += pageSize {
			chunkLen := int(region.End() - page)
			if chunkLen > pageSize {
				chunkLen = pageSize
			}
			if chunkLen < 8 {
				continue
			}

			chunk, err := o.config.Mem.TryRead(page, chunkLen)
			if err != nil {
				continue
			}

			w := memio.Window(chunk)

			for off := 0; off+8 <= chunkLen; off += 4 {
				ptr, _ := w.Pointer(off)
				if !o.tr.bounds.Plausible(ptr) {
					continue
				}

				count, _ := w.Uint32(off + 4)
				if count == 0 || count > uint32(o.config.Profile.MaxTreeNodes) {
					continue
				}

				headerAddr := page + uint64(off)
				if o.tr.validateContainer(headerAddr) == nil {
					if o.config.Verbose != nil {
						o.config.Verbose.Printf("data phase found container header at 0x%x",
							headerAddr)
					}
					return Handle{Header: headerAddr}, nil
				}
			}
		}
	}

	return Handle{}, ErrNotFound
}

const pageSize = 4096
