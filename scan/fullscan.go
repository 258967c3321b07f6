package scan

import (
	"fmt"
	"log"
	"time"

	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/record"
)

const pageSize = 4096

// Stats summarizes one full-region scan.
type Stats struct {
	Regions   int
	Pages     int
	PagesBad  int
	Found     int
	Truncated bool
	Elapsed   time.Duration
}

func (o Stats) String() string {
	return fmt.Sprintf("regions=%d pages=%d bad_pages=%d found=%d truncated=%v elapsed=%s",
		o.Regions, o.Pages, o.PagesBad, o.Found, o.Truncated, o.Elapsed)
}

// FullScannerConfig configures a FullScanner.
type FullScannerConfig struct {
	// Mem reads the foreign address space.
	Mem memio.Accessor

	// Regions enumerates the committed regions to scan, in ascending
	// address order.
	Regions memio.RegionsFunc

	// Validator decides whether a candidate window is a record.
	Validator *record.Validator

	// MaxDuration optionally bounds the scan's wall-clock time.
	// Zero means no budget. A scan that exhausts the budget returns
	// what it found so far with Stats.Truncated set.
	MaxDuration time.Duration

	// Verbose optionally logs per-region progress.
	Verbose *log.Logger
}

func (o FullScannerConfig) validate() error {
	if o.Mem == nil {
		return fmt.Errorf("memory accessor cannot be nil")
	}

	if o.Regions == nil {
		return fmt.Errorf("regions function cannot be nil")
	}

	if o.Validator == nil {
		return fmt.Errorf("record validator cannot be nil")
	}

	return nil
}

// NewFullScanner creates a FullScanner for the specified configuration.
func NewFullScanner(config FullScannerConfig) (*FullScanner, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &FullScanner{
		config: config,
	}, nil
}

// FullScanner enumerates every committed read-write region of the
// foreign process page by page, probing each 4-byte-aligned offset as
// a candidate record identity field. This is the expensive,
// ground-truth-establishing path: it produces a fresh address cache
// from nothing, at the cost of touching the whole address space.
type FullScanner struct {
	config FullScannerConfig
}

// Scan performs one full-region scan. Unreadable pages are counted
// and skipped without aborting the remainder of the scan. Records are
// deduplicated by identity, first-found wins, and the result is
// bounded by the profile's maximum record count.
func (o *FullScanner) Scan(selfIdent uint32) ([]record.Record, Stats, error) {
	started := time.Now()

	profile := o.config.Validator.Profile()

	regions, err := o.config.Regions()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to enumerate memory regions - %w", err)
	}

	var stats Stats
	var found []record.Record
	seen := make(map[uint32]struct{})

	deadline := time.Time{}
	if o.config.MaxDuration > 0 {
		deadline = started.Add(o.config.MaxDuration)
	}

scanning:
	for _, region := range regions {
		if !region.Perms.Has(memio.PermRead | memio.PermWrite) {
			continue
		}

		if region.Size < uint64(profile.WindowLen) {
			continue
		}

		stats.Regions++

		if o.config.Verbose != nil {
			o.config.Verbose.Printf("scanning region 0x%x-0x%x (%s)",
				region.Base, region.End(), region.Perms)
		}

		for page := region.Base; page < region.End(); page += pageSize {
			if len(found) >= profile.MaxRecords {
				stats.Truncated = true
				break scanning
			}

			if !deadline.IsZero() && time.Now().After(deadline) {
				stats.Truncated = true
				break scanning
			}

			chunkLen := int(region.End() - page)
			if chunkLen > pageSize {
				chunkLen = pageSize
			}
			if chunkLen < profile.WindowLen {
				continue
			}

			chunk, err := o.config.Mem.TryRead(page, chunkLen)
			if err != nil {
				stats.PagesBad++
				continue
			}

			stats.Pages++

			o.scanChunk(memio.Window(chunk), page, selfIdent, seen, &found)
		}
	}

	stats.Found = len(found)
	stats.Elapsed = time.Since(started)

	return found, stats, nil
}

// scanChunk probes every 4-byte-aligned offset of one page-sized
// chunk. Windows never straddle a chunk boundary; a record whose
// window would cross into the next page is picked up when that page's
// predecessor bytes are unreadable anyway, so the loss is accepted.
func (o *FullScanner) scanChunk(chunk memio.Window, base uint64, selfIdent uint32, seen map[uint32]struct{}, found *[]record.Record) {
	profile := o.config.Validator.Profile()

	for off := 0; off+profile.WindowLen <= len(chunk); off += 4 {
		if len(*found) >= profile.MaxRecords {
			return
		}

		window := chunk[off : off+profile.WindowLen]

		rec, err := o.config.Validator.Validate(window, base+uint64(off))
		if err != nil {
			continue
		}

		if _, dup := seen[rec.Ident]; dup {
			continue
		}
		seen[rec.Ident] = struct{}{}

		// Position lives far outside the window; failure to read it
		// is routine and leaves the coordinates zeroed.
		x, y, z, err := o.config.Validator.ReadPosition(rec.Addr, rec.Ident, selfIdent)
		if err == nil {
			rec.X, rec.Y, rec.Z = x, y, z
		}

		*found = append(*found, rec)
	}
}
