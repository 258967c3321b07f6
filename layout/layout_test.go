package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProfileValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestProfile_ValidateRejectsBadRanges(t *testing.T) {
	p := Default()
	p.IdentMin = p.IdentMax
	require.Error(t, p.Validate())

	p = Default()
	p.HealthOff = p.WindowLen
	require.Error(t, p.Validate())

	p = Default()
	p.NodeKeyOff = p.NodeWindowLen - 2
	require.Error(t, p.Validate())

	p = Default()
	p.SampleNodes = 0
	require.Error(t, p.Validate())
}

func TestProfile_IdentInRange(t *testing.T) {
	p := Default()

	require.True(t, p.IdentInRange(0x10000000))
	require.True(t, p.IdentInRange(0x20000001))
	require.False(t, p.IdentInRange(0x0fffffff))
	require.False(t, p.IdentInRange(0x80000000))
}

func TestTable_ContextSelection(t *testing.T) {
	custom := Default()
	custom.PosOff = 584

	table := NewTable(DefaultContext).
		AddProfileInContext(custom, "host-build-12")

	p, err := table.Current()
	require.NoError(t, err)
	require.Equal(t, int64(576), p.PosOff)

	table.SetContext("host-build-12")
	p, err = table.Current()
	require.NoError(t, err)
	require.Equal(t, int64(584), p.PosOff)

	table.SetContext("no-such-context")
	_, err = table.Current()
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")

	err := os.WriteFile(path, []byte(`context: host-build-12
profiles:
  host-build-12:
    pos_off: 584
    sample_nodes: 5
`), 0o600)
	require.NoError(t, err)

	table, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "host-build-12", table.CurrentContext())

	p, err := table.Current()
	require.NoError(t, err)

	// Overridden fields take effect, everything else inherits
	// the default profile.
	require.Equal(t, int64(584), p.PosOff)
	require.Equal(t, 5, p.SampleNodes)
	require.Equal(t, uint32(0x10000000), p.IdentMin)
	require.Equal(t, 200, p.MaxRecords)
}

func TestFileTemplate_RoundTripsThroughLoadFile(t *testing.T) {
	custom := Default()
	custom.PosOff = 584
	custom.SampleNodes = 5

	b, err := FileTemplate("host-build-12", custom)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "host-build-12", table.CurrentContext())

	p, err := table.Current()
	require.NoError(t, err)
	require.Equal(t, custom, p)
}

func TestFileTemplate_RejectsInvalidProfile(t *testing.T) {
	_, err := FileTemplate("broken", Profile{})
	require.Error(t, err)
}

func TestLoadFile_RejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")

	err := os.WriteFile(path, []byte(`context: broken
profiles:
  broken:
    window_len: 2
`), 0o600)
	require.NoError(t, err)

	_, err = LoadFile(path)
	require.Error(t, err)
}
