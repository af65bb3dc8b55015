package layout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/bigbag/parttool/embedded"
	"github.com/bigbag/parttool/internal/config"
	"github.com/bigbag/parttool/internal/envname"
	"github.com/bigbag/parttool/internal/partition"
)

// FirmwareName is the image PlatformIO leaves in each environment's build
// directory.
const FirmwareName = "firmware.bin"

const stagingSuffix = ".tmp"

// Options tell the Generator where to look for firmware and where to write
// its artifacts.
type Options struct {
	// BuildDir holds one directory per build environment.
	BuildDir string
	// Environment names the build environment to read firmware from.
	Environment envname.Resolver

	TablePath  string
	OffsetPath string
	SizePath   string
}

// Generator produces the partition table and derived scalars for a build.
type Generator struct {
	fs     afero.Fs
	opts   Options
	logger log.Logger
}

// NewGenerator creates a Generator writing through fs.
func NewGenerator(fs afero.Fs, opts Options, logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Generator{fs: fs, opts: opts, logger: logger}
}

// FirmwarePath resolves the build environment and returns the path of its
// firmware image.
func (g *Generator) FirmwarePath(ctx context.Context) (string, error) {
	env, err := g.opts.Environment.ResolveEnvironment(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve build environment: %w", err)
	}
	return filepath.Join(g.opts.BuildDir, env, FirmwareName), nil
}

// Run generates the table for cfg. When no firmware has been built it writes
// the bundled template to the table path and returns ErrFirmwareMissing
// with a nil Result. Artifacts are written only once the whole layout has
// been computed.
func (g *Generator) Run(ctx context.Context, cfg config.Config) (*Result, error) {
	firmwarePath, err := g.FirmwarePath(ctx)
	if err != nil {
		return nil, err
	}

	info, err := g.fs.Stat(firmwarePath)
	if errors.Is(err, fs.ErrNotExist) {
		level.Info(g.logger).Log("msg", "no firmware image, writing fallback partition table", "firmware", firmwarePath, "table", g.opts.TablePath)
		if err := g.writeFile(g.opts.TablePath, embedded.PartitionTemplate()); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrFirmwareMissing, firmwarePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat firmware: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("firmware path %s is a directory", firmwarePath)
	}

	level.Debug(g.logger).Log("msg", "firmware found", "path", firmwarePath, "size", info.Size())

	result, err := Generate(uint64(info.Size()), cfg)
	if err != nil {
		return nil, err
	}

	var table bytes.Buffer
	if err := partition.Write(&table, result.Table); err != nil {
		return nil, err
	}

	err = g.writeAll([]artifact{
		{g.opts.TablePath, table.Bytes()},
		{g.opts.OffsetPath, []byte(fmt.Sprintf("0x%x\n", result.UsedFlash))},
		{g.opts.SizePath, []byte(fmt.Sprintf("%d\n", result.FilesystemSize))},
	})
	if err != nil {
		return nil, err
	}

	level.Debug(g.logger).Log("msg", "partition table written", "table", g.opts.TablePath, "app_size", result.AppSize, "fs_size", result.FilesystemSize)
	return result, nil
}

type artifact struct {
	path string
	data []byte
}

// writeAll stages every artifact next to its target and only renames them
// into place once all have been written, so a failed write leaves the
// previous artifacts untouched.
func (g *Generator) writeAll(artifacts []artifact) error {
	staged := make([]string, 0, len(artifacts))
	cleanup := func() {
		for _, tmp := range staged {
			g.fs.Remove(tmp)
		}
	}

	for _, a := range artifacts {
		tmp := a.path + stagingSuffix
		if err := g.writeFile(tmp, a.data); err != nil {
			g.fs.Remove(tmp)
			cleanup()
			return err
		}
		staged = append(staged, tmp)
	}

	for i, a := range artifacts {
		if err := g.fs.Rename(staged[i], a.path); err != nil {
			staged = staged[i:]
			cleanup()
			return fmt.Errorf("failed to write %s: %w", a.path, err)
		}
	}
	return nil
}

func (g *Generator) writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := g.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(g.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// IsFirmwareMissing reports whether err is the fallback outcome of Run.
func IsFirmwareMissing(err error) bool {
	return errors.Is(err, ErrFirmwareMissing)
}
