package partition

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const generatedTable = `#Name,Type,SubType,Offset,Size,Flags
app,app,factory,0x10000,0x60000,
coredump,data,coredump,,0x10000,
nvs,data,nvs,,0x3000,
littlefs,data,undefined,,0x37c000,
`

func TestParse_GeneratedTable(t *testing.T) {
	table, err := Parse(strings.NewReader(generatedTable))
	require.NoError(t, err)
	require.Len(t, table, 4)

	assert.Equal(t, Entry{Name: "app", Type: "app", SubType: "factory", Offset: Explicit(0x10000), Size: 0x60000}, table[0])
	assert.Equal(t, Entry{Name: "coredump", Type: "data", SubType: "coredump", Size: 0x10000}, table[1])
	assert.Equal(t, []string{"app", "coredump", "nvs", "littlefs"}, table.Names())
	assert.False(t, table[3].Offset.IsExplicit())
}

func TestParse_HandEditedTable(t *testing.T) {
	input := `# ESP-IDF Partition Table
# Name,   Type, SubType, Offset,  Size, Flags
nvs,      data, nvs,     0x9000,  0x6000,
phy_init, data, phy,     0xf000,  0x1000,

factory,  app,  factory, 0x10000, 1M, readonly
storage,  data, spiffs,  ,        64K
`
	table, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table, 4)

	assert.Equal(t, "phy_init", table[1].Name)
	assert.Equal(t, uint64(1024*1024), table[2].Size)
	assert.Equal(t, "readonly", table[2].Flags)
	assert.Equal(t, uint64(64*1024), table[3].Size)
	assert.Equal(t, "", table[3].Flags)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"too few fields", "app,app,factory\n", "line 1"},
		{"missing size", "app,app,factory,0x10000,,\n", "size is required"},
		{"bad size", "app,app,factory,0x10000,0xZZ,\n", "invalid size"},
		{"bad offset", "app,app,factory,ten,0x1000,\n", "invalid offset"},
		{"empty name", ",app,factory,,0x1000,\n", "name is empty"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0x10000", 0x10000},
		{"0X3000", 0x3000},
		{"4096", 4096},
		{"4K", 4096},
		{"0x10k", 0x4000},
		{" 2M ", 2 * 1024 * 1024},
	}

	for _, tc := range tests {
		got, err := ParseNumber(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "0x", "-1", "1G", "abc", "0xffffffffffffffffk", "18014398509481984K", "17592186044416m"} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestWrite_MatchesBuildFormat(t *testing.T) {
	table := Table{
		{Name: "app", Type: "app", SubType: "factory", Offset: Explicit(0x10000), Size: 0x60000},
		{Name: "coredump", Type: "data", SubType: "coredump", Size: 0x10000},
		{Name: "nvs", Type: "data", SubType: "nvs", Size: 0x3000},
		{Name: "littlefs", Type: "data", SubType: "undefined", Size: 0x37c000},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, table))
	assert.Equal(t, generatedTable, buf.String())

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, table, parsed)
}
