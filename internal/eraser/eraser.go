// Package eraser zeroes a partition's bytes inside a flat flash image.
package eraser

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/bigbag/parttool/internal/partition"
)

// DefaultChunkSize is how many zero bytes are written per call.
const DefaultChunkSize = 64 * 1024

var (
	// ErrEraseFailed is returned when the image could not be overwritten.
	ErrEraseFailed = errors.New("erase failed")

	// ErrOutOfRange is returned when the range ends past the image. Nothing
	// is written in that case.
	ErrOutOfRange = fmt.Errorf("%w: range exceeds image", ErrEraseFailed)
)

// ProgressCallback is called after each chunk with bytes written so far.
type ProgressCallback func(current, total int64)

// Eraser overwrites byte ranges of image files with zeros in place.
type Eraser struct {
	fs        afero.Fs
	chunkSize int
	progress  ProgressCallback
}

// New creates an Eraser working on fs.
func New(fs afero.Fs) *Eraser {
	return &Eraser{fs: fs, chunkSize: DefaultChunkSize}
}

// SetProgressCallback sets the progress callback function.
func (e *Eraser) SetProgressCallback(cb ProgressCallback) {
	e.progress = cb
}

// SetChunkSize overrides the write size; values below one are ignored.
func (e *Eraser) SetChunkSize(n int) {
	if n > 0 {
		e.chunkSize = n
	}
}

func (e *Eraser) reportProgress(current, total int64) {
	if e.progress != nil {
		e.progress(current, total)
	}
}

// ErasePartition resolves name in table and zeroes its range in the image at
// path. The image is not opened when the name is absent.
func (e *Eraser) ErasePartition(table partition.Table, path, name string) (partition.Region, error) {
	region, err := table.Resolve(name)
	if err != nil {
		return partition.Region{}, err
	}
	if err := e.Zero(path, region.Offset, region.Size); err != nil {
		return region, fmt.Errorf("partition %q at 0x%x: %w", name, region.Offset, err)
	}
	return region, nil
}

// Zero overwrites size bytes starting at offset with zeros. The file is
// neither truncated nor extended; a range ending past the file fails before
// anything is written.
func (e *Eraser) Zero(path string, offset, size uint64) error {
	f, err := e.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEraseFailed, err)
	}

	if err := e.zero(f, offset, size); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrEraseFailed, err)
	}
	return nil
}

func (e *Eraser) zero(f afero.File, offset, size uint64) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEraseFailed, err)
	}

	imageSize := uint64(info.Size())
	end := offset + size
	if end < offset || end > imageSize {
		return fmt.Errorf("%w: 0x%x+0x%x, image is 0x%x bytes", ErrOutOfRange, offset, size, imageSize)
	}

	buf := make([]byte, min(uint64(e.chunkSize), size))
	var written uint64
	for written < size {
		n := min(uint64(len(buf)), size-written)
		if _, err := f.WriteAt(buf[:n], int64(offset+written)); err != nil {
			return fmt.Errorf("%w: write at 0x%x: %w", ErrEraseFailed, offset+written, err)
		}
		written += n
		e.reportProgress(int64(written), int64(size))
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrEraseFailed, err)
	}
	return nil
}
