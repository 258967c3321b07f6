// Package track ties the scanners, the ordered index, and the
// crash-recovery policy together into a session-oriented tracking
// engine.
//
// The engine assumes exactly two execution paths: a scan goroutine
// that owns the scan cycle (Run or RunCycle), and a call path that
// services attack requests (ServiceAttack). Everything crossing
// between them goes through atomics, the request slot, or the output
// cache.
package track

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"gitlab.com/stephen-fox/trackit/guard"
	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/ordindex"
	"gitlab.com/stephen-fox/trackit/record"
	"gitlab.com/stephen-fox/trackit/scan"
)

const (
	// DefaultFullScanInterval is the default period between full
	// region scans.
	DefaultFullScanInterval = 5 * time.Second

	// DefaultFastScanInterval is the default period between fast
	// re-validation passes.
	DefaultFastScanInterval = 200 * time.Millisecond

	// DefaultCycleSleep is the default pause between scan cycles.
	DefaultCycleSleep = 50 * time.Millisecond

	// defaultCodeHintLen bounds the code-phase decode when the
	// caller supplies a hint address without a length.
	defaultCodeHintLen = 512
)

// Hooks abstracts the privileged foreign calls the engine can make
// into the target. Implementations run inside a protected region on
// the call path; a fault during a hook is recovered and reported as
// guard.ErrFaulted.
type Hooks interface {
	// CallAttackEntry invokes the target's direct attack entry point
	// with a pointer to the target object.
	CallAttackEntry(valuePtr uint64) error

	// CallNetworkAttackEntry invokes the target's protocol-level
	// attack path for the specified identity and sequence number.
	CallNetworkAttackEntry(ident uint32, seq uint32) error
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Mem reads the foreign address space.
	Mem memio.Accessor

	// Regions enumerates the foreign process's committed regions.
	Regions memio.RegionsFunc

	// Profile supplies the memory layout to track.
	Profile layout.Profile

	// Hooks optionally enables foreign attack calls. A nil value
	// makes ServiceAttack fail every request.
	Hooks Hooks

	// CodeHint optionally points index discovery at host code known
	// to reference the container.
	CodeHint ordindex.CodeHint

	// FullScanInterval overrides DefaultFullScanInterval.
	FullScanInterval time.Duration

	// FastScanInterval overrides DefaultFastScanInterval.
	FastScanInterval time.Duration

	// CycleSleep overrides DefaultCycleSleep.
	CycleSleep time.Duration

	// FullScanBudget optionally bounds each full scan's wall-clock
	// time. Zero means unbounded.
	FullScanBudget time.Duration

	// Logger optionally overrides the default logger.
	Logger log.Interface
}

func (o EngineConfig) validate() error {
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

// NewEngine creates an Engine for the specified configuration.
func NewEngine(config EngineConfig) (*Engine, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	if config.FullScanInterval <= 0 {
		config.FullScanInterval = DefaultFullScanInterval
	}

	if config.FastScanInterval <= 0 {
		config.FastScanInterval = DefaultFastScanInterval
	}

	if config.CycleSleep <= 0 {
		config.CycleSleep = DefaultCycleSleep
	}

	if config.CodeHint.Address != 0 && config.CodeHint.Length <= 0 {
		config.CodeHint.Length = defaultCodeHintLen
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Log
	}

	monitor := guard.NewMonitor(guard.MonitorConfig{})

	scanRegion, err := guard.NewRegion(guard.ScanSide, monitor)
	if err != nil {
		return nil, err
	}

	callRegion, err := guard.NewRegion(guard.CallSide, monitor)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		mem:          config.Mem,
		regionsFn:    config.Regions,
		hooks:        config.Hooks,
		codeHint:     config.CodeHint,
		fullInterval: config.FullScanInterval,
		fastInterval: config.FastScanInterval,
		cycleSleep:   config.CycleSleep,
		fullBudget:   config.FullScanBudget,
		logger:       logger,
		monitor:      monitor,
		scanRegion:   scanRegion,
		callRegion:   callRegion,
		cache:        scan.NewCache(config.Profile.MaxRecords),
		output:       NewOutputCache(config.Profile.MaxRecords),
	}

	err = engine.buildPipeline(config.Profile)
	if err != nil {
		return nil, err
	}

	return engine, nil
}

// Engine discovers and tracks live records in a foreign process.
type Engine struct {
	mem          memio.Accessor
	regionsFn    memio.RegionsFunc
	hooks        Hooks
	codeHint     ordindex.CodeHint
	fullInterval time.Duration
	fastInterval time.Duration
	cycleSleep   time.Duration
	fullBudget   time.Duration
	logger       log.Interface

	monitor    *guard.Monitor
	scanRegion *guard.Region
	callRegion *guard.Region

	// mu guards the rebuildable pipeline (replaced wholesale by
	// SetProfile) and the session id. Users grab the pointers they
	// need under the lock and release it before doing any work.
	mu        sync.Mutex
	profile   layout.Profile
	validator *record.Validator
	full      *scan.FullScanner
	fast      *scan.FastScanner
	disc      *ordindex.Discoverer
	walker    *ordindex.Walker
	session   string

	// Owned by the scan goroutine.
	cache     *scan.Cache
	lastFull  time.Time
	lastFast  time.Time
	prevCount int

	output *OutputCache
	slot   RequestSlot

	handle       atomic.Uint64
	indexMode    atomic.Bool
	selfIdent    atomic.Uint32
	attackSeq    atomic.Uint32
	resetPending atomic.Bool
}

// buildPipeline replaces every profile-derived component. The caller
// must hold mu (or be the only goroutine with a reference).
func (o *Engine) buildPipeline(profile layout.Profile) error {
	validator, err := record.NewValidator(record.ValidatorConfig{
		Profile: profile,
		Mem:     o.mem,
	})
	if err != nil {
		return fmt.Errorf("failed to create validator - %w", err)
	}

	full, err := scan.NewFullScanner(scan.FullScannerConfig{
		Mem:         o.mem,
		Regions:     o.regionsFn,
		Validator:   validator,
		MaxDuration: o.fullBudget,
	})
	if err != nil {
		return fmt.Errorf("failed to create full scanner - %w", err)
	}

	fast, err := scan.NewFastScanner(scan.FastScannerConfig{
		Mem:       o.mem,
		Validator: validator,
	})
	if err != nil {
		return fmt.Errorf("failed to create fast scanner - %w", err)
	}

	disc, err := ordindex.NewDiscoverer(ordindex.DiscovererConfig{
		Mem:     o.mem,
		Regions: o.regionsFn,
		Profile: profile,
	})
	if err != nil {
		return fmt.Errorf("failed to create index discoverer - %w", err)
	}

	walker, err := ordindex.NewWalker(ordindex.WalkerConfig{
		Mem:       o.mem,
		Validator: validator,
	})
	if err != nil {
		return fmt.Errorf("failed to create index walker - %w", err)
	}

	o.profile = profile
	o.validator = validator
	o.full = full
	o.fast = fast
	o.disc = disc
	o.walker = walker

	return nil
}

// SetProfile replaces the layout profile. The index handle is
// discarded because it was validated against the old layout, and the
// scan state is rebuilt from scratch on the next cycle.
func (o *Engine) SetProfile(profile layout.Profile) error {
	err := profile.Validate()
	if err != nil {
		return fmt.Errorf("invalid layout profile - %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	err = o.buildPipeline(profile)
	if err != nil {
		return err
	}

	o.handle.Store(0)
	o.indexMode.Store(false)
	o.resetPending.Store(true)

	return nil
}

// Profile returns the active layout profile.
func (o *Engine) Profile() layout.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.profile
}

// BeginSession starts a new tracking session, discarding all state
// from any previous one except the index handle, which remains valid
// as long as the target process does. It returns the session id.
func (o *Engine) BeginSession() string {
	id := uuid.NewString()

	o.mu.Lock()
	o.session = id
	o.mu.Unlock()

	o.output.Clear()
	o.slot.Clear()
	o.selfIdent.Store(0)
	o.resetPending.Store(true)

	o.logger.WithField("session", id).Info("session started")

	return id
}

// EndSession tears the current session down. Consumers see an empty
// snapshot immediately; the scan goroutine resets on its next cycle.
func (o *Engine) EndSession() {
	o.mu.Lock()
	id := o.session
	o.session = ""
	o.mu.Unlock()

	o.output.Clear()
	o.slot.Clear()
	o.selfIdent.Store(0)
	o.resetPending.Store(true)

	if id != "" {
		o.logger.WithField("session", id).Info("session ended")
	}
}

// Session returns the current session id, or "" outside a session.
func (o *Engine) Session() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.session
}

// SetSelfIdent declares the identity of the player's own record so
// scans can resolve its differently-placed position block.
func (o *Engine) SetSelfIdent(ident uint32) {
	o.selfIdent.Store(ident)
}

// SelfIdent returns the declared self identity, or zero.
func (o *Engine) SelfIdent() uint32 {
	return o.selfIdent.Load()
}

// RequestAttack deposits an attack request for the specified
// identity, replacing any unserviced one.
func (o *Engine) RequestAttack(ident uint32) {
	o.slot.Request(ident)
}

// Snapshot returns a copy of the most recently published result set.
func (o *Engine) Snapshot() []record.Record {
	return o.output.Snapshot()
}

// Monitor exposes the stability policy for introspection.
func (o *Engine) Monitor() *guard.Monitor {
	return o.monitor
}

// Handle returns the current index handle. An invalid handle means
// no container is known.
func (o *Engine) Handle() ordindex.Handle {
	return ordindex.Handle{Header: o.handle.Load()}
}

// IndexMode reports whether scan cycles traverse the ordered index
// instead of sweeping regions.
func (o *Engine) IndexMode() bool {
	return o.indexMode.Load()
}

// SetIndexMode switches between index traversal and region scanning.
// Enabling requires a previously discovered handle.
func (o *Engine) SetIndexMode(enabled bool) error {
	if enabled && !o.Handle().Valid() {
		return fmt.Errorf("no ordered index handle is available - run discovery first")
	}

	o.indexMode.Store(enabled)

	return nil
}

// DiscoverIndex locates the ordered index container and retains its
// handle. Discovery runs inside a protected region of its own so a
// fault while probing candidates cannot take the process down.
func (o *Engine) DiscoverIndex() (ordindex.Handle, error) {
	o.mu.Lock()
	disc := o.disc
	o.mu.Unlock()

	region, err := guard.NewRegion(guard.ScanSide, o.monitor)
	if err != nil {
		return ordindex.Handle{}, err
	}

	var h ordindex.Handle

	err = region.Do(func() error {
		found, discErr := disc.Discover(o.codeHint)
		if discErr != nil {
			return discErr
		}

		h = found

		return nil
	})
	if err != nil {
		return ordindex.Handle{}, fmt.Errorf("index discovery failed - %w", err)
	}

	o.handle.Store(h.Header)

	o.logger.WithField("header", fmt.Sprintf("0x%x", h.Header)).Info("ordered index discovered")

	return h, nil
}

// Run executes scan cycles until ctx is cancelled. It pins the
// goroutine to its OS thread for the duration: the protected-region
// model attributes faults per thread of execution.
func (o *Engine) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		o.RunCycle(time.Now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cycleSleep):
		}
	}
}

// RunCycle executes one scan cycle: index traversal when index mode
// is armed, otherwise a full scan or fast refresh depending on what
// is due. Only completed passes publish results.
//
// RunCycle must only be called from the scan goroutine.
func (o *Engine) RunCycle(now time.Time) {
	o.mu.Lock()
	full, fast, walker := o.full, o.fast, o.walker
	maxRecords := o.profile.MaxRecords
	o.mu.Unlock()

	if o.resetPending.CompareAndSwap(true, false) {
		o.cache = scan.NewCache(maxRecords)
		o.lastFull = time.Time{}
		o.lastFast = time.Time{}
		o.prevCount = 0
	}

	self := o.selfIdent.Load()

	if o.indexMode.Load() {
		h := o.Handle()
		if !h.Valid() {
			o.indexMode.Store(false)
		} else {
			var records []record.Record

			err := o.scanRegion.Do(func() error {
				var walkErr error
				records, walkErr = walker.WalkAll(h, self)
				return walkErr
			})
			if err == nil {
				o.commit(records, now)
				o.lastFull = now
				o.lastFast = now
				return
			}

			// The container disproved itself. Drop the handle and
			// fall back to region scanning this same cycle.
			o.handle.Store(0)
			o.indexMode.Store(false)
			o.logger.WithError(err).Warn("discarding ordered index handle")
		}
	}

	if now.Sub(o.lastFull) >= o.fullInterval {
		var records []record.Record
		var stats scan.Stats

		err := o.scanRegion.Do(func() error {
			var scanErr error
			records, stats, scanErr = full.Scan(self)
			return scanErr
		})
		if err != nil {
			o.logger.WithError(err).Warn("full scan failed")
			o.lastFull = now
			return
		}

		o.logger.Debugf("full scan: %s", stats)

		o.commit(records, now)
		o.lastFull = now
		o.lastFast = now

		return
	}

	if now.Sub(o.lastFast) >= o.fastInterval {
		err := o.scanRegion.Do(func() error {
			fast.Refresh(o.cache, self)
			return nil
		})
		if err != nil {
			// The cache may be mid-compaction; the next full scan
			// rebuilds it. Publish nothing this cycle.
			o.logger.WithError(err).Warn("fast refresh failed")
			o.lastFast = now
			return
		}

		o.lastFast = now
		o.publish(now)
	}
}

// commit installs a completed pass's results and publishes them.
func (o *Engine) commit(records []record.Record, now time.Time) {
	o.cache.ReplaceAll(records)
	o.publish(now)
}

func (o *Engine) publish(now time.Time) {
	current := o.cache.Len()
	o.monitor.NoteCount(o.prevCount, current, now)
	o.prevCount = current

	o.output.Publish(o.cache.Records())
}

// ServiceAttack takes the pending attack request, if any, and carries
// it out. With a valid index handle the target object is re-derived
// by key immediately before the call; a stale cached pointer is never
// used. Targets absent from the index fall back to the protocol-level
// path with a fresh sequence number.
//
// ServiceAttack is meant to run on the call path, never on the scan
// goroutine.
func (o *Engine) ServiceAttack(now time.Time) error {
	ident, pending := o.slot.TakeIfPending()
	if !pending {
		return nil
	}

	if o.hooks == nil {
		return fmt.Errorf("no foreign call hooks are configured")
	}

	err := o.monitor.CallAllowed(now)
	if err != nil {
		return fmt.Errorf("refusing attack on 0x%x - %w", ident, err)
	}

	o.mu.Lock()
	walker := o.walker
	o.mu.Unlock()

	h := o.Handle()
	if h.Valid() {
		err := o.callRegion.Do(func() error {
			valuePtr, findErr := walker.Find(h, ident)
			if findErr != nil {
				return findErr
			}

			return o.hooks.CallAttackEntry(valuePtr)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ordindex.ErrNotFound):
			// Not in the index; try the protocol path below.
		default:
			return fmt.Errorf("attack on 0x%x failed - %w", ident, err)
		}
	}

	seq := o.attackSeq.Add(1)

	err = o.callRegion.Do(func() error {
		return o.hooks.CallNetworkAttackEntry(ident, seq)
	})
	if err != nil {
		return fmt.Errorf("network attack on 0x%x failed - %w", ident, err)
	}

	return nil
}
