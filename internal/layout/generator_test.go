package layout

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/parttool/embedded"
	"github.com/bigbag/parttool/internal/config"
	"github.com/bigbag/parttool/internal/envname"
)

func testOptions() Options {
	return Options{
		BuildDir:    ".pio/build",
		Environment: envname.Static("watchy"),
		TablePath:   "in/partitions.csv",
		OffsetPath:  "in/offset.txt",
		SizePath:    "in/size.txt",
	}
}

func TestGeneratorRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".pio/build/watchy/firmware.bin", make([]byte, 0x50000), 0o644))

	g := NewGenerator(fs, testOptions(), nil)
	result, err := g.Run(context.Background(), config.Config{TolerancePercent: 20, FlashSizeMB: 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x37c000), result.FilesystemSize)

	table, err := afero.ReadFile(fs, "in/partitions.csv")
	require.NoError(t, err)
	assert.Equal(t, `#Name,Type,SubType,Offset,Size,Flags
app,app,factory,0x10000,0x60000,
coredump,data,coredump,,0x10000,
nvs,data,nvs,,0x3000,
littlefs,data,undefined,,0x37c000,
`, string(table))

	offset, err := afero.ReadFile(fs, "in/offset.txt")
	require.NoError(t, err)
	assert.Equal(t, "0x83000\n", string(offset))

	size, err := afero.ReadFile(fs, "in/size.txt")
	require.NoError(t, err)
	assert.Equal(t, "3653632\n", string(size))
}

// failingFs refuses to open one path for writing.
type failingFs struct {
	afero.Fs
	path string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOSPC}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestGeneratorRun_WriteFailureKeepsPreviousArtifacts(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, ".pio/build/watchy/firmware.bin", make([]byte, 0x50000), 0o644))
	opts := testOptions()
	for _, p := range []string{opts.TablePath, opts.OffsetPath, opts.SizePath} {
		require.NoError(t, afero.WriteFile(mem, p, []byte("old\n"), 0o644))
	}

	g := NewGenerator(failingFs{Fs: mem, path: opts.SizePath + ".tmp"}, opts, nil)
	result, err := g.Run(context.Background(), config.Config{TolerancePercent: 20, FlashSizeMB: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Nil(t, result)

	for _, p := range []string{opts.TablePath, opts.OffsetPath, opts.SizePath} {
		got, err := afero.ReadFile(mem, p)
		require.NoError(t, err, p)
		assert.Equal(t, "old\n", string(got), p)

		exists, err := afero.Exists(mem, p+".tmp")
		require.NoError(t, err)
		assert.False(t, exists, p+".tmp")
	}
}

func TestGeneratorRun_FirmwareMissing(t *testing.T) {
	fs := afero.NewMemMapFs()

	g := NewGenerator(fs, testOptions(), nil)
	result, err := g.Run(context.Background(), config.Config{TolerancePercent: 20, FlashSizeMB: 4})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsFirmwareMissing(err))

	table, err := afero.ReadFile(fs, "in/partitions.csv")
	require.NoError(t, err)
	assert.Equal(t, embedded.PartitionTemplate(), table)

	for _, path := range []string{"in/offset.txt", "in/size.txt"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestGeneratorRun_InfeasibleWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".pio/build/watchy/firmware.bin", make([]byte, 0x200000), 0o644))

	g := NewGenerator(fs, testOptions(), nil)
	_, err := g.Run(context.Background(), config.Config{TolerancePercent: 10, FlashSizeMB: 2})
	assert.ErrorIs(t, err, ErrInfeasibleCapacity)

	for _, path := range []string{"in/partitions.csv", "in/offset.txt", "in/size.txt"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestGeneratorRun_UnresolvedEnvironment(t *testing.T) {
	opts := testOptions()
	opts.Environment = envname.Func(func(context.Context) (string, error) {
		return "", errors.New("launch.json not found")
	})

	g := NewGenerator(afero.NewMemMapFs(), opts, nil)
	_, err := g.Run(context.Background(), config.Config{TolerancePercent: 10, FlashSizeMB: 4})
	require.Error(t, err)
	assert.False(t, IsFirmwareMissing(err))
	assert.Contains(t, err.Error(), "launch.json not found")
}

func TestFirmwarePath(t *testing.T) {
	g := NewGenerator(afero.NewMemMapFs(), testOptions(), nil)
	path, err := g.FirmwarePath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ".pio/build/watchy/firmware.bin", path)
}
