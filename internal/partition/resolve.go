package partition

import "fmt"

// Region is an absolute byte range on flash.
type Region struct {
	Name   string
	Offset uint64
	Size   uint64
}

// End returns the first byte past the region.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// Resolve walks the table in order and returns the byte range of the named
// partition. The cursor starts at zero; every entry before the target adds
// its size and, when present, its explicit offset. Both contributions are
// additive, which matches the tables produced by the build tooling where
// only the first entry is pinned. The size is the target's own size.
//
// The result is a position inside an image file, not a flash address. Use
// Locate for the latter.
func (t Table) Resolve(name string) (Region, error) {
	return find(t.Resolved(), name)
}

// Resolved returns the region Resolve gives each entry, in table order.
func (t Table) Resolved() []Region {
	regions := make([]Region, 0, len(t))
	var offset uint64
	for _, e := range t {
		regions = append(regions, Region{Name: e.Name, Offset: offset, Size: e.Size})
		offset += e.Size
		if v, ok := e.Offset.Value(); ok {
			offset += v
		}
	}
	return regions
}

// Locate returns the flash address range the bootloader gives the named
// partition.
func (t Table) Locate(name string) (Region, error) {
	return find(t.Layout(), name)
}

// Layout places every entry on flash the way the bootloader does: explicit
// offsets are taken as is and sequential entries start where the previous
// entry ended.
func (t Table) Layout() []Region {
	regions := make([]Region, 0, len(t))
	cursor := uint64(FirstOffset)
	for _, e := range t {
		start := cursor
		if v, ok := e.Offset.Value(); ok {
			start = v
		}
		regions = append(regions, Region{Name: e.Name, Offset: start, Size: e.Size})
		cursor = start + e.Size
	}
	return regions
}

func find(regions []Region, name string) (Region, error) {
	for _, r := range regions {
		if r.Name == name {
			return r, nil
		}
	}
	return Region{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}
