// Package scan implements the two-tier scanning strategy: an
// expensive full-region scan that establishes ground truth, and a
// cheap re-validation pass that keeps the resulting address cache
// fresh between full scans.
package scan

import (
	"gitlab.com/stephen-fox/trackit/record"
)

// NewCache creates an address cache holding at most max records.
func NewCache(max int) *Cache {
	return &Cache{
		max: max,
	}
}

// Cache is the ordered, bounded collection of records most recently
// discovered in the foreign process.
//
// It is owned by exactly one goroutine - the scan cycle - and is not
// safe for concurrent use. Anything that crosses a goroutine boundary
// goes through track.OutputCache instead.
type Cache struct {
	max     int
	records []record.Record
}

// ReplaceAll rebuilds the cache wholesale, truncating to capacity.
func (o *Cache) ReplaceAll(records []record.Record) {
	if len(records) > o.max {
		records = records[:o.max]
	}

	o.records = o.records[:0]
	o.records = append(o.records, records...)
}

// Records returns the cached records. The slice aliases the cache's
// storage; callers must not retain it across cache mutations.
func (o *Cache) Records() []record.Record {
	return o.records
}

// Len returns the number of cached records.
func (o *Cache) Len() int {
	return len(o.records)
}

// Clear drops every entry.
func (o *Cache) Clear() {
	o.records = o.records[:0]
}
