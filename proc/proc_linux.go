//go:build linux

package proc

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"gitlab.com/stephen-fox/trackit/memio"
)

// Attach opens a handle on the specified process. It does not stop
// or trace the target; reads are performed on demand.
func Attach(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("pid %d is not valid", pid)
	}

	err := unix.Kill(pid, 0)
	if err != nil && err != unix.EPERM {
		return nil, fmt.Errorf("process %d is not running - %w", pid, err)
	}

	return &Process{
		pid: pid,
	}, nil
}

// Process reads another process's memory via process_vm_readv.
// It implements memio.Accessor.
type Process struct {
	pid int
}

// Pid returns the target's process id.
func (o *Process) Pid() int {
	return o.pid
}

// TryRead reads exactly length bytes at address. Any failure,
// including a short read straddling an unmapped boundary, is reported
// as memio.ErrUnreadable.
func (o *Process) TryRead(address uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("read length cannot be negative")
	}

	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)

	local := unix.Iovec{
		Base: &buf[0],
	}
	local.SetLen(length)

	remote := unix.RemoteIovec{
		Base: uintptr(address),
		Len:  length,
	}

	n, err := unix.ProcessVMReadv(o.pid, []unix.Iovec{local}, []unix.RemoteIovec{remote}, 0)
	if err != nil {
		return nil, fmt.Errorf("%w - 0x%x+%d: %v", memio.ErrUnreadable, address, length, err)
	}

	if n != length {
		return nil, fmt.Errorf("%w - 0x%x: short read (%d of %d bytes)",
			memio.ErrUnreadable, address, n, length)
	}

	return buf, nil
}

// IsReadable reports whether length bytes at address can currently
// be read.
func (o *Process) IsReadable(address uint64, length int) bool {
	_, err := o.TryRead(address, length)
	return err == nil
}

// Regions enumerates the target's committed memory regions.
func (o *Process) Regions() ([]memio.Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", o.pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open maps file - %w", err)
	}
	defer f.Close()

	regions, err := ParseMaps(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse maps file - %w", err)
	}

	return regions, nil
}

// Alive reports whether the target process still exists.
func (o *Process) Alive() bool {
	err := unix.Kill(o.pid, 0)

	return err == nil || err == unix.EPERM
}

// AliveCtx creates a context.Context that is marked as done when the
// target process exits. The process is polled once per second.
func (o *Process) AliveCtx(ctx context.Context) (context.Context, func()) {
	newCtx, cancelFn := context.WithCancel(ctx)

	go func() {
		defer cancelFn()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-newCtx.Done():
				return
			case <-ticker.C:
				if !o.Alive() {
					return
				}
			}
		}
	}()

	return newCtx, cancelFn
}
