package partition

import (
	"errors"
	"fmt"
)

// Flash addresses fixed by the ESP32 boot flow.
const (
	TableAddress = 0x8000
	TableSize    = 0x1000

	// FirstOffset is where sequential layout starts when no entry before
	// it carries an explicit offset.
	FirstOffset = TableAddress + TableSize
)

// Alignment requirements for explicit offsets.
const (
	SectorSize    = 0x1000
	AppAlignment  = 0x10000
	DataAlignment = SectorSize
)

// Partition types understood by the bootloader.
const (
	TypeApp  = "app"
	TypeData = "data"
)

const maxNameLength = 16

// ErrNotFound is returned when a partition name is absent from a table.
var ErrNotFound = errors.New("partition not found")

// Offset is either an explicit absolute flash address or a marker that the
// entry follows the previous one.
type Offset struct {
	value    uint64
	explicit bool
}

// Explicit returns an offset pinned to addr.
func Explicit(addr uint64) Offset {
	return Offset{value: addr, explicit: true}
}

// Sequential returns an offset derived from the previous entry.
func Sequential() Offset {
	return Offset{}
}

// IsExplicit reports whether the offset carries an absolute address.
func (o Offset) IsExplicit() bool {
	return o.explicit
}

// Value returns the absolute address and whether one is set.
func (o Offset) Value() (uint64, bool) {
	return o.value, o.explicit
}

// String renders the offset the way the CSV table stores it.
func (o Offset) String() string {
	if !o.explicit {
		return ""
	}
	return formatHex(o.value)
}

// Entry is one row of a partition table.
type Entry struct {
	Name    string
	Type    string
	SubType string
	Offset  Offset
	Size    uint64
	Flags   string
}

// Table is an ordered list of partition entries. Order defines both the
// sequential layout and the resolution order.
type Table []Entry

// Find returns the entry with the given name.
func (t Table) Find(name string) (Entry, error) {
	for _, e := range t {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names returns the entry names in table order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for _, e := range t {
		names = append(names, e.Name)
	}
	return names
}

func formatHex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
