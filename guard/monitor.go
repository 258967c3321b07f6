package guard

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// DefaultRecoveryCooldown is how long foreign calls are refused
	// after a fault recovery on either side.
	DefaultRecoveryCooldown = 2 * time.Second

	// DefaultSwingCooldown is how long foreign calls are refused
	// after an abrupt swing in the tracked record count.
	DefaultSwingCooldown = 1 * time.Second

	// DefaultSwingThreshold is the per-cycle record count change
	// that counts as an abrupt swing.
	DefaultSwingThreshold = 5
)

// MonitorConfig configures a Monitor. Zero values select the package
// defaults.
type MonitorConfig struct {
	// RecoveryCooldown overrides DefaultRecoveryCooldown.
	RecoveryCooldown time.Duration

	// SwingCooldown overrides DefaultSwingCooldown.
	SwingCooldown time.Duration

	// SwingThreshold overrides DefaultSwingThreshold.
	SwingThreshold int
}

// NewMonitor creates a Monitor for the specified configuration.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.RecoveryCooldown <= 0 {
		config.RecoveryCooldown = DefaultRecoveryCooldown
	}

	if config.SwingCooldown <= 0 {
		config.SwingCooldown = DefaultSwingCooldown
	}

	if config.SwingThreshold <= 0 {
		config.SwingThreshold = DefaultSwingThreshold
	}

	return &Monitor{
		config: config,
	}
}

// Monitor tracks recent instability signals and gates foreign calls
// on them. All state is atomic so the scan loop can record signals
// while the call path consults the policy.
type Monitor struct {
	config MonitorConfig

	// Unix nanoseconds; zero means "never".
	lastScanRecovery atomic.Int64
	lastCallRecovery atomic.Int64
	lastSwing        atomic.Int64
}

func (o *Monitor) noteRecovery(side Side, now time.Time) {
	switch side {
	case CallSide:
		o.lastCallRecovery.Store(now.UnixNano())
	default:
		o.lastScanRecovery.Store(now.UnixNano())
	}
}

// RecoveredAt returns the time of the most recent fault recovery on
// the specified side, or the zero time if none has occurred.
func (o *Monitor) RecoveredAt(side Side) time.Time {
	var ns int64
	switch side {
	case CallSide:
		ns = o.lastCallRecovery.Load()
	default:
		ns = o.lastScanRecovery.Load()
	}

	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

// NoteCount records a scan cycle's record count transition. A change
// larger than the swing threshold (in either direction) suggests the
// target's object graph is being rebuilt, which starts the swing
// cooldown.
func (o *Monitor) NoteCount(previous int, current int, now time.Time) {
	delta := current - previous
	if delta < 0 {
		delta = -delta
	}

	if delta > o.config.SwingThreshold {
		o.lastSwing.Store(now.UnixNano())
	}
}

// CallAllowed reports whether a foreign privileged call may proceed
// at the specified time. It returns an error wrapping ErrCoolingDown
// when any recovery or swing cooldown is still in effect.
func (o *Monitor) CallAllowed(now time.Time) error {
	checks := []struct {
		ns       int64
		cooldown time.Duration
		what     string
	}{
		{o.lastScanRecovery.Load(), o.config.RecoveryCooldown, "scan-side fault recovery"},
		{o.lastCallRecovery.Load(), o.config.RecoveryCooldown, "call-side fault recovery"},
		{o.lastSwing.Load(), o.config.SwingCooldown, "record count swing"},
	}

	for _, check := range checks {
		if check.ns == 0 {
			continue
		}

		elapsed := now.Sub(time.Unix(0, check.ns))
		if elapsed < check.cooldown {
			return fmt.Errorf("%w - %s %s ago", ErrCoolingDown, check.what,
				elapsed.Round(time.Millisecond))
		}
	}

	return nil
}
