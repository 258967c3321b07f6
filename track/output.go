package track

import (
	"sync"

	"gitlab.com/stephen-fox/trackit/record"
)

// NewOutputCache creates an output cache holding at most max records.
func NewOutputCache(max int) *OutputCache {
	return &OutputCache{
		max: max,
	}
}

// OutputCache is the hand-off point between the scan cycle and
// consumers on other goroutines. The scan cycle publishes the result
// of each completed pass wholesale; consumers take copies. A pass that
// fails publishes nothing, so readers only ever observe complete
// result sets.
type OutputCache struct {
	mu      sync.Mutex
	max     int
	records []record.Record
}

// Publish replaces the cache's contents with a copy of records,
// truncated to capacity.
func (o *OutputCache) Publish(records []record.Record) {
	if o.max > 0 && len(records) > o.max {
		records = records[:o.max]
	}

	o.mu.Lock()
	o.records = append(o.records[:0], records...)
	o.mu.Unlock()
}

// Snapshot returns a copy of the current contents. The copy is the
// caller's to keep.
func (o *OutputCache) Snapshot() []record.Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]record.Record, len(o.records))
	copy(out, o.records)

	return out
}

// Len returns the number of published records.
func (o *OutputCache) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.records)
}

// Clear drops every entry.
func (o *OutputCache) Clear() {
	o.mu.Lock()
	o.records = o.records[:0]
	o.mu.Unlock()
}
