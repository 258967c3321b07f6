package track

import (
	"sync/atomic"
)

// requestPending tags a slot value as holding a live request,
// distinguishing "request for identity zero" from "no request".
const requestPending = uint64(1) << 32

// RequestSlot is a lock-free, single-entry mailbox for attack
// requests. A new request overwrites any unserviced one: only the
// most recent target matters. The zero value is ready to use.
type RequestSlot struct {
	v atomic.Uint64
}

// Request deposits a request for the specified identity, replacing
// any pending request.
func (o *RequestSlot) Request(ident uint32) {
	o.v.Store(requestPending | uint64(ident))
}

// TakeIfPending removes and returns the pending request, if any.
// Exactly one caller observes each deposited request.
func (o *RequestSlot) TakeIfPending() (uint32, bool) {
	v := o.v.Swap(0)
	if v&requestPending == 0 {
		return 0, false
	}

	return uint32(v), true
}

// Clear discards any pending request.
func (o *RequestSlot) Clear() {
	o.v.Store(0)
}
