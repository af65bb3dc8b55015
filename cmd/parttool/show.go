package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bigbag/parttool/internal/partition"
)

var showFlashSizeFlag int

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <partitions.csv>",
		Short: "Print a partition table with resolved offsets",
		Long: `Show prints every partition with the flash address the bootloader
places it at and the offset the erase command resolves for it. Rows where
the two differ are marked. The table is validated against the flash size
when one is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runShow,
	}
	cmd.Flags().IntVar(&showFlashSizeFlag, "flash-size", 0, "Flash size in MB to validate against")
	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	table, err := loadTable(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Name", "Type", "SubType", "Address", "Erase offset", "Size", "", "Flags"})
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)

	rows, mismatch := showRows(table)
	tw.AppendBulk(rows)
	tw.Render()

	if mismatch {
		fmt.Fprintln(out, "* erase offset differs from the flash address")
	}

	if err := table.Validate(uint64(showFlashSizeFlag) * 1024 * 1024); err != nil {
		return fmt.Errorf("partition table is invalid: %w", err)
	}
	return nil
}

// showRows renders one row per entry, in table order, and reports whether
// any erase offset differs from the flash address.
func showRows(table partition.Table) ([][]string, bool) {
	placed := table.Layout()
	resolved := table.Resolved()

	rows := make([][]string, 0, len(table))
	mismatch := false
	for i, e := range table {
		eraseOffset := fmt.Sprintf("0x%x", resolved[i].Offset)
		if resolved[i].Offset != placed[i].Offset {
			eraseOffset += " *"
			mismatch = true
		}

		rows = append(rows, []string{
			e.Name,
			e.Type,
			e.SubType,
			fmt.Sprintf("0x%x", placed[i].Offset),
			eraseOffset,
			fmt.Sprintf("0x%x", e.Size),
			humanize.IBytes(e.Size),
			e.Flags,
		})
	}
	return rows, mismatch
}
