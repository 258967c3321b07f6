// Package guard provides the crash-recovery execution model: protected
// regions that convert invalid-memory-access faults into ordinary
// failure returns, and a stability policy that refuses risky foreign
// calls while the target's structures appear to be in flux.
//
// A fault inside a protected region resumes execution immediately
// after the protecting call with ErrFaulted instead of terminating
// the process. Faults that cannot be attributed to an armed region
// keep their default fatal handling on purpose - recovering them
// could mask real corruption.
package guard

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

var (
	// ErrFaulted reports that the protected operation took an
	// invalid-memory-access class fault and was abandoned.
	ErrFaulted = errors.New("recovered from invalid memory access")

	// ErrCoolingDown reports that foreign privileged calls are
	// temporarily refused by the stability policy.
	ErrCoolingDown = errors.New("foreign calls are cooling down")
)

// Side identifies which execution path armed a region. Recovery
// timestamps are tracked per side.
type Side int

const (
	// ScanSide is the scan/command loop.
	ScanSide Side = iota

	// CallSide is the host-owned execution path that performs
	// privileged foreign calls.
	CallSide
)

func (o Side) String() string {
	switch o {
	case ScanSide:
		return "scan"
	case CallSide:
		return "call"
	default:
		return fmt.Sprintf("side(%d)", int(o))
	}
}

// NewRegion creates a protected region for one execution path.
// The region belongs to the goroutine that runs its Do method;
// regions are never shared and do not nest.
func NewRegion(side Side, monitor *Monitor) (*Region, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}

	return &Region{
		side:    side,
		monitor: monitor,
	}, nil
}

// Region is a reusable protected-region token. Arming is tracked so
// that accidental nesting (or sharing across goroutines) fails loudly
// instead of silently mis-attributing a fault.
type Region struct {
	side    Side
	monitor *Monitor
	armed   atomic.Bool
}

// Do runs op inside the protected region. A fault of class "invalid
// memory access" (surfacing in Go as a runtime error panic while
// parsing untrusted data) is converted into ErrFaulted and recorded
// with the monitor; execution resumes at Do's caller. Any other panic
// is re-raised so it keeps its default handling.
//
// Resumption is only valid on the goroutine that armed the region,
// which holds by construction: the deferred recovery runs on the
// same goroutine as op.
func (o *Region) Do(op func() error) (err error) {
	if !o.armed.CompareAndSwap(false, true) {
		panic("protected region is already armed - regions do not nest")
	}

	defer func() {
		o.armed.Store(false)

		recovered := recover()
		if recovered == nil {
			return
		}

		if _, isFault := recovered.(runtime.Error); !isFault {
			panic(recovered)
		}

		o.monitor.noteRecovery(o.side, time.Now())
		err = fmt.Errorf("%w - %v", ErrFaulted, recovered)
	}()

	return op()
}

// Side returns the execution path this region belongs to.
func (o *Region) Side() Side {
	return o.side
}
