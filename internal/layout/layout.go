package layout

import (
	"errors"
	"fmt"

	"github.com/bigbag/parttool/internal/config"
	"github.com/bigbag/parttool/internal/partition"
)

// Fixed regions of the generated table.
const (
	AppOffset    = 0x10000
	CoredumpSize = 0x10000
	NVSSize      = 0x3000
)

// Names of the generated partitions, in layout order.
const (
	AppName        = "app"
	CoredumpName   = "coredump"
	NVSName        = "nvs"
	FilesystemName = "littlefs"
)

const alignMask = partition.SectorSize - 1

var (
	// ErrInfeasibleCapacity is returned when the flash cannot hold the
	// application plus the fixed regions with room left for a filesystem.
	ErrInfeasibleCapacity = errors.New("flash capacity too small for partition layout")

	// ErrFirmwareMissing reports that no firmware was built yet. It is not a
	// failure: the fallback template is written instead.
	ErrFirmwareMissing = errors.New("firmware image not found")
)

// Result is a generated layout.
type Result struct {
	Table partition.Table
	// AppSize is the aligned application partition size.
	AppSize uint64
	// UsedFlash is where the filesystem partition begins.
	UsedFlash uint64
	// FilesystemSize is the aligned size left for littlefs.
	FilesystemSize uint64
}

// AlignUp rounds x up to the next sector boundary.
func AlignUp(x uint64) uint64 {
	return (x + alignMask) &^ alignMask
}

// AlignDown rounds x down to a sector boundary.
func AlignDown(x uint64) uint64 {
	return x &^ alignMask
}

// AppSize returns the application partition size for a firmware image:
// the image plus tolerancePercent of it, rounded up to a whole sector.
func AppSize(firmwareSize uint64, tolerancePercent int) uint64 {
	margin := firmwareSize * uint64(tolerancePercent) / 100
	return AlignUp(firmwareSize + margin)
}

// Generate computes the partition layout for a firmware image of the given
// size on the flash described by cfg.
func Generate(firmwareSize uint64, cfg config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appSize := AppSize(firmwareSize, cfg.TolerancePercent)
	used := uint64(AppOffset) + CoredumpSize + NVSSize + appSize
	capacity := cfg.FlashCapacity()

	if capacity <= used+alignMask {
		return nil, fmt.Errorf("%w: need more than 0x%x bytes for app (0x%x) and fixed regions, flash is 0x%x",
			ErrInfeasibleCapacity, used+alignMask, appSize, capacity)
	}
	fsSize := AlignDown(capacity - used - alignMask)
	if fsSize == 0 {
		return nil, fmt.Errorf("%w: no whole sector left for %s after 0x%x bytes",
			ErrInfeasibleCapacity, FilesystemName, used)
	}

	table := partition.Table{
		{Name: AppName, Type: partition.TypeApp, SubType: "factory", Offset: partition.Explicit(AppOffset), Size: appSize},
		{Name: CoredumpName, Type: partition.TypeData, SubType: "coredump", Size: CoredumpSize},
		{Name: NVSName, Type: partition.TypeData, SubType: "nvs", Size: NVSSize},
		{Name: FilesystemName, Type: partition.TypeData, SubType: "undefined", Size: fsSize},
	}

	return &Result{
		Table:          table,
		AppSize:        appSize,
		UsedFlash:      used,
		FilesystemSize: fsSize,
	}, nil
}
