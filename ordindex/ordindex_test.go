package ordindex

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/stephen-fox/trackit/bstruct"
	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/memio"
	"gitlab.com/stephen-fox/trackit/record"
)

const (
	testNodeBase   = 0x600000
	testValueBase  = 0x680000
	testHeaderAddr = 0x700000
	testCodeAddr   = 0x450000
	testTypeTag    = 0x401000
)

// testTreeNode mirrors the default profile's 24-byte node layout.
type testTreeNode struct {
	Left   uint32
	Parent uint32
	Right  uint32
	Color  uint8
	IsNil  uint8
	Pad    uint16
	Key    uint32
	Value  uint32
}

// testValueObject is a value object: type tag, padding, then the
// record window the validator understands, padded to a 64-byte slot.
type testValueObject struct {
	Tag    uint32
	Pad    uint32
	Ident  uint32
	Name   [16]byte
	Size   uint32
	Cap    uint32
	Health uint32
	Tail   [24]byte
}

type treeEntry struct {
	key    uint32
	name   string
	health uint32
}

// buildTestTree assembles a binary search tree (insertion order =
// entries order), its value objects, and a container header into img.
// It returns the value object address for each key.
func buildTestTree(t *testing.T, img *memio.Image, entries []treeEntry) map[uint32]uint64 {
	t.Helper()
	require.NotEmpty(t, entries)

	type bstNode struct {
		key                 uint32
		left, right, parent int
	}

	const nilIdx = -1

	nodes := make([]bstNode, 0, len(entries))
	root := nilIdx

	for _, entry := range entries {
		idx := len(nodes)
		nodes = append(nodes, bstNode{
			key:    entry.key,
			left:   nilIdx,
			right:  nilIdx,
			parent: nilIdx,
		})

		if root == nilIdx {
			root = idx
			continue
		}

		cur := root
		for {
			if entry.key < nodes[cur].key {
				if nodes[cur].left == nilIdx {
					nodes[cur].left = idx
					nodes[idx].parent = cur
					break
				}
				cur = nodes[cur].left
			} else {
				if nodes[cur].right == nilIdx {
					nodes[cur].right = idx
					nodes[idx].parent = cur
					break
				}
				cur = nodes[cur].right
			}
		}
	}

	leftmost := root
	for nodes[leftmost].left != nilIdx {
		leftmost = nodes[leftmost].left
	}

	rightmost := root
	for nodes[rightmost].right != nilIdx {
		rightmost = nodes[rightmost].right
	}

	// Index -1 (nil) maps to the sentinel, which sits first.
	addrOf := func(idx int) uint32 {
		if idx == nilIdx {
			return testNodeBase
		}
		return testNodeBase + uint32(idx+1)*24
	}

	valueAddrs := make(map[uint32]uint64)

	segment := make([]byte, (len(nodes)+1)*24)

	sentinel := testTreeNode{
		Left:   addrOf(leftmost),
		Parent: addrOf(root),
		Right:  addrOf(rightmost),
		IsNil:  1,
	}
	sentinelBytes, err := bstruct.StructToBytes(sentinel, binary.LittleEndian, nil)
	require.NoError(t, err)
	copy(segment, sentinelBytes)

	valueSegment := make([]byte, len(entries)*64)

	for i, n := range nodes {
		valueAddr := uint32(testValueBase + i*64)
		valueAddrs[n.key] = uint64(valueAddr)

		nodeBytes, err := bstruct.StructToBytes(testTreeNode{
			Left:   addrOf(n.left),
			Parent: addrOf(n.parent),
			Right:  addrOf(n.right),
			Key:    n.key,
			Value:  valueAddr,
		}, binary.LittleEndian, nil)
		require.NoError(t, err)
		copy(segment[(i+1)*24:], nodeBytes)

		value := testValueObject{
			Tag:    testTypeTag,
			Ident:  n.key,
			Size:   uint32(len(entries[i].name)),
			Cap:    15,
			Health: entries[i].health,
		}
		copy(value.Name[:], entries[i].name)

		valueBytes, err := bstruct.StructToBytes(value, binary.LittleEndian, nil)
		require.NoError(t, err)
		copy(valueSegment[i*64:], valueBytes)
	}

	require.NoError(t, img.Map(testNodeBase, segment, memio.PermRead|memio.PermWrite))
	require.NoError(t, img.Map(testValueBase, valueSegment, memio.PermRead|memio.PermWrite))

	headerBytes := make([]byte, 8)
	binary.LittleEndian.PutUint32(headerBytes, testNodeBase)
	binary.LittleEndian.PutUint32(headerBytes[4:], uint32(len(entries)))
	require.NoError(t, img.Map(testHeaderAddr, headerBytes, memio.PermRead|memio.PermWrite))

	return valueAddrs
}

func defaultEntries() []treeEntry {
	return []treeEntry{
		{key: 0x20000003, name: "Cyclops", health: 80},
		{key: 0x20000001, name: "Rat", health: 50},
		{key: 0x20000005, name: "Rotworm", health: 60},
		{key: 0x20000002, name: "Dragon", health: 100},
		{key: 0x20000007, name: "Demon", health: 95},
	}
}

func newTestWalker(t *testing.T, img *memio.Image) *Walker {
	t.Helper()

	validator, err := record.NewValidator(record.ValidatorConfig{
		Profile: layout.Default(),
		Mem:     img,
	})
	require.NoError(t, err)

	walker, err := NewWalker(WalkerConfig{
		Mem:       img,
		Validator: validator,
	})
	require.NoError(t, err)

	return walker
}

func newTestDiscoverer(t *testing.T, img *memio.Image) *Discoverer {
	t.Helper()

	disc, err := NewDiscoverer(DiscovererConfig{
		Mem:     img,
		Regions: img.Regions,
		Profile: layout.Default(),
	})
	require.NoError(t, err)

	return disc
}

func TestWalkAll_InOrder(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	records, err := newTestWalker(t, img).WalkAll(Handle{Header: testHeaderAddr}, 0)
	require.NoError(t, err)

	var keys []uint32
	for _, rec := range records {
		keys = append(keys, rec.Ident)
	}

	require.Equal(t, []uint32{
		0x20000001, 0x20000002, 0x20000003, 0x20000005, 0x20000007,
	}, keys)

	require.Equal(t, "Rat", records[0].Name)
	require.Equal(t, uint8(50), records[0].Health)
}

func TestWalkAll_FindAgreement(t *testing.T) {
	img := memio.NewImage()
	valueAddrs := buildTestTree(t, img, defaultEntries())

	walker := newTestWalker(t, img)
	h := Handle{Header: testHeaderAddr}

	records, err := walker.WalkAll(h, 0)
	require.NoError(t, err)

	for _, rec := range records {
		ptr, err := walker.Find(h, rec.Ident)
		require.NoError(t, err, "key 0x%x", rec.Ident)
		require.Equal(t, valueAddrs[rec.Ident], ptr)
	}

	// Keys absent from the traversal result are not found.
	for _, absent := range []uint32{0x20000000, 0x20000004, 0x7fffffff} {
		_, err := walker.Find(h, absent)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestWalkAll_RejectsKeyObjectMismatch(t *testing.T) {
	img := memio.NewImage()
	valueAddrs := buildTestTree(t, img, defaultEntries())

	// Corrupt one value object's identity so it no longer matches
	// its node key.
	corrupt := make([]byte, 4)
	binary.LittleEndian.PutUint32(corrupt, 0x30000000)
	require.NoError(t, img.Poke(valueAddrs[0x20000005]+8, corrupt))

	walker := newTestWalker(t, img)
	h := Handle{Header: testHeaderAddr}

	records, err := walker.WalkAll(h, 0)
	require.NoError(t, err)
	require.Len(t, records, len(defaultEntries())-1)

	for _, rec := range records {
		require.NotEqual(t, uint32(0x20000005), rec.Ident)
	}

	_, err = walker.Find(h, 0x20000005)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWalkAll_CorruptTreeFailsClosed(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	// Point the sentinel's leftmost link at the root and make the
	// root its own left child: traversal must hit its bound and
	// fail, never spin or report partial results as complete.
	tr := newTreeReader(img, layout.Default())
	hdr, err := tr.header(testHeaderAddr)
	require.NoError(t, err)

	sentinel, err := tr.node(hdr.sentinel)
	require.NoError(t, err)

	rootAddr := sentinel.parent

	ptrBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(ptrBytes, uint32(rootAddr))
	require.NoError(t, img.Poke(hdr.sentinel, ptrBytes))   // sentinel.left = root
	require.NoError(t, img.Poke(rootAddr, ptrBytes))       // root.left = root

	walker := newTestWalker(t, img)

	_, err = walker.WalkAll(Handle{Header: testHeaderAddr}, 0)
	require.Error(t, err)

	// Lookup of a key left of the root is bounded too.
	_, err = walker.Find(Handle{Header: testHeaderAddr}, 0x20000001)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDiscover_ViaDataScan(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	h, err := newTestDiscoverer(t, img).Discover(CodeHint{})
	require.NoError(t, err)
	require.Equal(t, uint64(testHeaderAddr), h.Header)
}

func TestDiscover_Idempotent(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	disc := newTestDiscoverer(t, img)

	first, err := disc.Discover(CodeHint{})
	require.NoError(t, err)

	second, err := disc.Discover(CodeHint{})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

// codeWithAbsoluteOperand assembles a tiny function that references
// target through a direct-memory operand: mov ecx, [target].
func codeWithAbsoluteOperand(target uint32) []byte {
	code := []byte{0x90, 0x90, 0x8b, 0x0d, 0, 0, 0, 0, 0x90, 0xc3}
	binary.LittleEndian.PutUint32(code[4:], target)
	return code
}

func TestDiscover_ViaCodeOperand(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	code := codeWithAbsoluteOperand(testHeaderAddr)
	require.NoError(t, img.Map(testCodeAddr, code, memio.PermRead|memio.PermExec))

	h, err := newTestDiscoverer(t, img).Discover(CodeHint{
		Address: testCodeAddr,
		Length:  len(code),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(testHeaderAddr), h.Header)
}

func TestDiscover_ViaCodeOperandIndirect(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	// The function references a global cell that holds a pointer to
	// the container rather than the container itself.
	const cellAddr = 0x460000
	cell := make([]byte, 4)
	binary.LittleEndian.PutUint32(cell, testHeaderAddr)
	require.NoError(t, img.Map(cellAddr, cell, memio.PermRead|memio.PermWrite))

	code := codeWithAbsoluteOperand(cellAddr)
	require.NoError(t, img.Map(testCodeAddr, code, memio.PermRead|memio.PermExec))

	h, err := newTestDiscoverer(t, img).Discover(CodeHint{
		Address: testCodeAddr,
		Length:  len(code),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(testHeaderAddr), h.Header)
}

func TestValidateContainer_Rejections(t *testing.T) {
	img := memio.NewImage()
	buildTestTree(t, img, defaultEntries())

	tr := newTreeReader(img, layout.Default())

	require.NoError(t, tr.validateContainer(testHeaderAddr))

	// Zero element count.
	require.NoError(t, img.Poke(testHeaderAddr+4, []byte{0, 0, 0, 0}))
	require.ErrorIs(t, tr.validateContainer(testHeaderAddr), ErrInvalidContainer)

	// Count above the permitted maximum.
	big := make([]byte, 4)
	binary.LittleEndian.PutUint32(big, 501)
	require.NoError(t, img.Poke(testHeaderAddr+4, big))
	require.ErrorIs(t, tr.validateContainer(testHeaderAddr), ErrInvalidContainer)

	// Restore the count, then clear the sentinel's is-nil marker.
	binary.LittleEndian.PutUint32(big, 5)
	require.NoError(t, img.Poke(testHeaderAddr+4, big))
	require.NoError(t, tr.validateContainer(testHeaderAddr))

	require.NoError(t, img.Poke(testNodeBase+13, []byte{0}))
	require.ErrorIs(t, tr.validateContainer(testHeaderAddr), ErrInvalidContainer)
}

func TestValidateContainer_RequiresKeyInRange(t *testing.T) {
	img := memio.NewImage()

	// A structurally sound tree whose keys all lie outside the
	// identity range must be rejected.
	entries := []treeEntry{
		{key: 0x00000010, name: "Rat", health: 50},
		{key: 0x00000020, name: "Cave Rat", health: 40},
	}
	buildTestTree(t, img, entries)

	tr := newTreeReader(img, layout.Default())
	require.ErrorIs(t, tr.validateContainer(testHeaderAddr), ErrInvalidContainer)
}
