package memio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImage_TryRead(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x400000, []byte{1, 2, 3, 4}, PermRead))

	data, err := img.TryRead(0x400001, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, data)
}

func TestImage_TryReadUnmapped(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x400000, make([]byte, 16), PermRead))

	_, err := img.TryRead(0x500000, 4)
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestImage_TryReadCrossesHole(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x400000, make([]byte, 8), PermRead))
	require.NoError(t, img.Map(0x400010, make([]byte, 8), PermRead))

	_, err := img.TryRead(0x400004, 8)
	require.ErrorIs(t, err, ErrUnreadable)

	require.False(t, img.IsReadable(0x400004, 8))
	require.True(t, img.IsReadable(0x400000, 8))
}

func TestImage_UnmapMakesUnreadable(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x400000, []byte{1, 2, 3, 4}, PermRead|PermWrite))

	img.Unmap(0x400000)

	_, err := img.TryRead(0x400000, 4)
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestImage_MapRejectsOverlap(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x400000, make([]byte, 16), PermRead))
	require.Error(t, img.Map(0x400008, make([]byte, 16), PermRead))
}

func TestImage_Regions(t *testing.T) {
	img := NewImage()
	require.NoError(t, img.Map(0x500000, make([]byte, 32), PermRead|PermWrite))
	require.NoError(t, img.Map(0x400000, make([]byte, 16), PermRead|PermExec))

	regions, err := img.Regions()
	require.NoError(t, err)
	require.Equal(t, []Region{
		{Base: 0x400000, Size: 16, Perms: PermRead | PermExec},
		{Base: 0x500000, Size: 32, Perms: PermRead | PermWrite},
	}, regions)
}

func TestWindow_Decoding(t *testing.T) {
	w := Window{0xef, 0xbe, 0xad, 0xde, 0x34, 0x12, 0x07}

	v32, ok := w.Uint32(0)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), v32)

	v16, ok := w.Uint16(4)
	require.True(t, ok)
	require.Equal(t, uint16(0x1234), v16)

	b, ok := w.Byte(6)
	require.True(t, ok)
	require.Equal(t, byte(7), b)

	_, ok = w.Uint32(4)
	require.False(t, ok)

	_, ok = w.Uint32(-1)
	require.False(t, ok)
}

func TestPointerBounds_Plausible(t *testing.T) {
	bounds := PointerBounds{Min: 0x10000, Max: 0x7ffe0000}

	require.True(t, bounds.Plausible(0x10000))
	require.True(t, bounds.Plausible(0x400000))
	require.False(t, bounds.Plausible(0xffff))
	require.False(t, bounds.Plausible(0x7ffe0000))
	require.False(t, bounds.Plausible(0))
}
