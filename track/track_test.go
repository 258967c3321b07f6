package track_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/stephen-fox/trackit/record"
	"gitlab.com/stephen-fox/trackit/track"
)

func TestRequestSlot_LatestRequestWins(t *testing.T) {
	var slot track.RequestSlot

	_, pending := slot.TakeIfPending()
	require.False(t, pending)

	slot.Request(0x20000001)
	slot.Request(0x20000002)

	ident, pending := slot.TakeIfPending()
	require.True(t, pending)
	require.Equal(t, uint32(0x20000002), ident)

	_, pending = slot.TakeIfPending()
	require.False(t, pending, "a request must only be observed once")
}

func TestRequestSlot_IdentityZeroIsStillARequest(t *testing.T) {
	var slot track.RequestSlot

	slot.Request(0)

	ident, pending := slot.TakeIfPending()
	require.True(t, pending)
	require.Zero(t, ident)
}

func TestRequestSlot_Clear(t *testing.T) {
	var slot track.RequestSlot

	slot.Request(0x20000001)
	slot.Clear()

	_, pending := slot.TakeIfPending()
	require.False(t, pending)
}

func TestOutputCache_SnapshotIsACopy(t *testing.T) {
	cache := track.NewOutputCache(10)

	cache.Publish([]record.Record{
		{Ident: 0x20000001, Name: "Rat"},
		{Ident: 0x20000002, Name: "Dragon"},
	})

	first := cache.Snapshot()
	require.Len(t, first, 2)

	cache.Publish([]record.Record{
		{Ident: 0x20000003, Name: "Cyclops"},
	})

	// The earlier snapshot is unaffected by later publishes.
	require.Len(t, first, 2)
	require.Equal(t, uint32(0x20000001), first[0].Ident)

	second := cache.Snapshot()
	require.Len(t, second, 1)
	require.Equal(t, uint32(0x20000003), second[0].Ident)
}

func TestOutputCache_Bound(t *testing.T) {
	cache := track.NewOutputCache(2)

	cache.Publish([]record.Record{
		{Ident: 1}, {Ident: 2}, {Ident: 3},
	})

	require.Equal(t, 2, cache.Len())

	cache.Clear()
	require.Zero(t, cache.Len())
	require.Empty(t, cache.Snapshot())
}
