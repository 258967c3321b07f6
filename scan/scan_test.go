package scan_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/stephen-fox/trackit/bstruct"
	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/record"
	"gitlab.com/stephen-fox/trackit/scan"
)

type recordWindow struct {
	Ident  uint32
	Name   [16]byte
	Size   uint32
	Cap    uint32
	Health uint32
}

// recordBytes builds the default profile's 32-byte record window with
// an inline name.
func recordBytes(t *testing.T, ident uint32, name string, health uint32) []byte {
	t.Helper()

	w := recordWindow{
		Ident:  ident,
		Size:   uint32(len(name)),
		Cap:    15,
		Health: health,
	}
	copy(w.Name[:], name)

	b, err := bstruct.StructToBytes(w, binary.LittleEndian, nil)
	require.NoError(t, err)

	return b
}

// placeRecord writes a record window plus its position block into a
// segment buffer at the specified offset.
func placeRecord(t *testing.T, segment []byte, off int, ident uint32, name string, health uint32, x, y, z uint32) {
	t.Helper()

	copy(segment[off:], recordBytes(t, ident, name, health))

	binary.LittleEndian.PutUint32(segment[off+576:], x)
	binary.LittleEndian.PutUint32(segment[off+580:], y)
	binary.LittleEndian.PutUint32(segment[off+584:], z)
}

func newScanners(t *testing.T, profile layout.Profile, mem memio.Accessor, regions memio.RegionsFunc) (*scan.FullScanner, *scan.FastScanner) {
	t.Helper()

	validator, err := record.NewValidator(record.ValidatorConfig{
		Profile: profile,
		Mem:     mem,
	})
	require.NoError(t, err)

	full, err := scan.NewFullScanner(scan.FullScannerConfig{
		Mem:       mem,
		Regions:   regions,
		Validator: validator,
	})
	require.NoError(t, err)

	fast, err := scan.NewFastScanner(scan.FastScannerConfig{
		Mem:       mem,
		Validator: validator,
	})
	require.NoError(t, err)

	return full, fast
}

func TestFullScan_EndToEnd(t *testing.T) {
	const base = 0x4f3000
	const off = 0x100

	segment := make([]byte, 4096)
	placeRecord(t, segment, off, 0x20000001, "Rat", 50, 100, 100, 7)

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead|memio.PermWrite))

	full, fast := newScanners(t, layout.Default(), img, img.Regions)

	records, stats, err := full.Scan(0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Found)
	require.Equal(t, []record.Record{{
		Ident:  0x20000001,
		Name:   "Rat",
		Health: 50,
		X:      100,
		Y:      100,
		Z:      7,
		Addr:   base + off,
	}}, records)

	cache := scan.NewCache(200)
	cache.ReplaceAll(records)

	// The health byte changes; a fast pass updates it in place
	// without touching identity or address.
	require.NoError(t, img.Poke(base+off+28, []byte{30, 0, 0, 0}))

	refreshStats := fast.Refresh(cache, 0)
	require.Equal(t, scan.RefreshStats{Kept: 1}, refreshStats)
	require.Equal(t, uint8(30), cache.Records()[0].Health)
	require.Equal(t, uint32(0x20000001), cache.Records()[0].Ident)
	require.Equal(t, uint64(base+off), cache.Records()[0].Addr)

	// Corrupting the identity drops the entry on the next pass.
	require.NoError(t, img.Poke(base+off, []byte{0, 0, 0, 0}))

	refreshStats = fast.Refresh(cache, 0)
	require.Equal(t, scan.RefreshStats{Dropped: 1}, refreshStats)
	require.Zero(t, cache.Len())
}

func TestFullScan_DeduplicatesByIdentity(t *testing.T) {
	const base = 0x4f3000

	segment := make([]byte, 8192)
	placeRecord(t, segment, 0x100, 0x20000001, "Rat", 50, 1, 2, 3)
	placeRecord(t, segment, 0x900, 0x20000001, "Rat", 40, 4, 5, 6)

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead|memio.PermWrite))

	full, _ := newScanners(t, layout.Default(), img, img.Regions)

	records, _, err := full.Scan(0)
	require.NoError(t, err)

	// First found wins.
	require.Len(t, records, 1)
	require.Equal(t, uint64(base+0x100), records[0].Addr)
	require.Equal(t, uint8(50), records[0].Health)
}

func TestFullScan_SkipsNonWritableRegions(t *testing.T) {
	const base = 0x4f3000

	segment := make([]byte, 4096)
	placeRecord(t, segment, 0x100, 0x20000001, "Rat", 50, 1, 2, 3)

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead))

	full, _ := newScanners(t, layout.Default(), img, img.Regions)

	records, stats, err := full.Scan(0)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Zero(t, stats.Regions)
}

func TestFullScan_BoundedByMaxRecords(t *testing.T) {
	const base = 0x4f3000

	profile := layout.Default()
	profile.MaxRecords = 3

	segment := make([]byte, 16384)
	names := []string{"Rat", "Cave Rat", "Rotworm", "Cyclops", "Dragon"}
	for i, name := range names {
		placeRecord(t, segment, 0x100+i*0x800, uint32(0x20000001+i), name, 50, 1, 2, 3)
	}

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead|memio.PermWrite))

	full, _ := newScanners(t, profile, img, img.Regions)

	records, stats, err := full.Scan(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, stats.Truncated)
}

// denyingAccessor fails every read that touches a denied page,
// simulating unreadable pages inside an otherwise scannable region.
type denyingAccessor struct {
	*memio.Image
	deniedPage uint64
}

func (o denyingAccessor) TryRead(address uint64, length int) ([]byte, error) {
	if address >= o.deniedPage && address < o.deniedPage+4096 {
		return nil, memio.ErrUnreadable
	}
	return o.Image.TryRead(address, length)
}

func TestFullScan_ToleratesUnreadablePages(t *testing.T) {
	const base = 0x4f0000

	segment := make([]byte, 3*4096)
	placeRecord(t, segment, 0x100, 0x20000001, "Rat", 50, 1, 2, 3)
	placeRecord(t, segment, 2*4096+0x100, 0x20000002, "Rotworm", 60, 4, 5, 6)

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead|memio.PermWrite))

	mem := denyingAccessor{Image: img, deniedPage: base + 4096}

	full, _ := newScanners(t, layout.Default(), mem, img.Regions)

	records, stats, err := full.Scan(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, stats.PagesBad)
	require.Equal(t, 2, stats.Pages)
}

func TestFastScan_NeverIntroducesIdentities(t *testing.T) {
	const base = 0x4f3000

	segment := make([]byte, 8192)
	placeRecord(t, segment, 0x100, 0x20000001, "Rat", 50, 1, 2, 3)
	placeRecord(t, segment, 0x900, 0x20000002, "Rotworm", 60, 4, 5, 6)

	img := memio.NewImage()
	require.NoError(t, img.Map(base, segment, memio.PermRead|memio.PermWrite))

	full, fast := newScanners(t, layout.Default(), img, img.Regions)

	records, _, err := full.Scan(0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	cache := scan.NewCache(200)
	cache.ReplaceAll(records)

	before := map[uint32]struct{}{}
	for _, rec := range cache.Records() {
		before[rec.Ident] = struct{}{}
	}

	for i := 0; i < 3; i++ {
		fast.Refresh(cache, 0)

		require.LessOrEqual(t, cache.Len(), len(before))
		for _, rec := range cache.Records() {
			_, had := before[rec.Ident]
			require.True(t, had, "fast scan introduced identity 0x%x", rec.Ident)
		}
	}
}

func TestCache_Bound(t *testing.T) {
	cache := scan.NewCache(2)

	cache.ReplaceAll([]record.Record{
		{Ident: 1}, {Ident: 2}, {Ident: 3},
	})

	require.Equal(t, 2, cache.Len())

	cache.Clear()
	require.Zero(t, cache.Len())
}
