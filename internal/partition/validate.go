package partition

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the table against the bootloader's layout rules: unique
// names, aligned explicit offsets, no overlapping regions and, when
// capacity is non-zero, every region inside the flash. All problems found
// are reported together.
func (t Table) Validate(capacity uint64) error {
	var result *multierror.Error

	seen := make(map[string]struct{}, len(t))
	for _, e := range t {
		if len(e.Name) > maxNameLength {
			result = multierror.Append(result, fmt.Errorf("partition %q: name longer than %d characters", e.Name, maxNameLength))
		}
		if _, dup := seen[e.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("partition %q: duplicate name", e.Name))
		}
		seen[e.Name] = struct{}{}

		if v, ok := e.Offset.Value(); ok {
			align := uint64(DataAlignment)
			if e.Type == TypeApp {
				align = AppAlignment
			}
			if v%align != 0 {
				result = multierror.Append(result, fmt.Errorf("partition %q: offset 0x%x is not aligned to 0x%x", e.Name, v, align))
			}
		}
	}

	// last tracks the region reaching furthest into flash so far.
	var last Region
	for i, r := range t.Layout() {
		if r.Offset < FirstOffset {
			result = multierror.Append(result, fmt.Errorf("partition %q: offset 0x%x overlaps the bootloader or partition table", r.Name, r.Offset))
		}
		if i > 0 && r.Offset < last.End() {
			result = multierror.Append(result, fmt.Errorf("partition %q at 0x%x overlaps %q ending at 0x%x", r.Name, r.Offset, last.Name, last.End()))
		}
		if capacity > 0 && r.End() > capacity {
			result = multierror.Append(result, fmt.Errorf("partition %q ends at 0x%x past flash size 0x%x", r.Name, r.End(), capacity))
		}
		if r.End() > last.End() {
			last = r
		}
	}

	return result.ErrorOrNil()
}
