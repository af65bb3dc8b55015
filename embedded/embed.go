package embedded

import (
	_ "embed"
)

//go:embed partitions-template.csv
var partitionTemplate []byte

// PartitionTemplate returns the fallback partition table written when no
// firmware has been compiled yet. It matches a 4MB flash with a 2MB app slot.
func PartitionTemplate() []byte {
	return partitionTemplate
}
