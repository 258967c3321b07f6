package scan

import (
	"fmt"
	"log"

	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/record"
)

// RefreshStats summarizes one fast re-validation pass.
type RefreshStats struct {
	Kept    int
	Dropped int
}

// FastScannerConfig configures a FastScanner.
type FastScannerConfig struct {
	// Mem reads the foreign address space.
	Mem memio.Accessor

	// Validator supplies the layout profile and position reads.
	Validator *record.Validator

	// Verbose optionally logs dropped entries.
	Verbose *log.Logger
}

func (o FastScannerConfig) validate() error {
	if o.Mem == nil {
		return fmt.Errorf("memory accessor cannot be nil")
	}

	if o.Validator == nil {
		return fmt.Errorf("record validator cannot be nil")
	}

	return nil
}

// NewFastScanner creates a FastScanner for the specified configuration.
func NewFastScanner(config FastScannerConfig) (*FastScanner, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &FastScanner{
		config: config,
	}, nil
}

// FastScanner re-validates an existing address cache without any
// region enumeration: one bounded read per cached entry. Entries
// whose identity no longer matches are dropped; surviving entries get
// their volatile fields refreshed. It never grows the cache and never
// introduces an identity that was not already present.
type FastScanner struct {
	config FastScannerConfig
}

// Refresh prunes and updates the cache in place.
func (o *FastScanner) Refresh(cache *Cache, selfIdent uint32) RefreshStats {
	profile := o.config.Validator.Profile()

	var stats RefreshStats

	kept := cache.records[:0]

	for i := range cache.records {
		rec := cache.records[i]

		if !o.reread(&rec, profile.WindowLen, profile.HealthOff, selfIdent) {
			stats.Dropped++
			if o.config.Verbose != nil {
				o.config.Verbose.Printf("dropping stale record %s", rec)
			}
			continue
		}

		kept = append(kept, rec)
		stats.Kept++
	}

	cache.records = kept

	return stats
}

// reread reports whether the cached address still holds a record with
// the expected identity, refreshing the record's volatile fields if so.
func (o *FastScanner) reread(rec *record.Record, windowLen int, healthOff int, selfIdent uint32) bool {
	window, err := o.config.Mem.TryRead(rec.Addr, windowLen)
	if err != nil {
		return false
	}

	w := memio.Window(window)

	ident, ok := w.Uint32(0)
	if !ok || ident != rec.Ident {
		return false
	}

	health, ok := w.Uint32(healthOff)
	if !ok || health > 100 {
		return false
	}
	rec.Health = uint8(health)

	x, y, z, err := o.config.Validator.ReadPosition(rec.Addr, rec.Ident, selfIdent)
	if err == nil {
		rec.X, rec.Y, rec.Z = x, y, z
	}

	return true
}
