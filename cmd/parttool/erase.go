package main

import (
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/parttool/internal/eraser"
	"github.com/bigbag/parttool/internal/partition"
)

func newEraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <partitions.csv> <image.bin> <name>",
		Short: "Zero a partition inside a flash image",
		Long: `Erase resolves the named partition in the table and overwrites its
bytes in the image with zeros. The image keeps its size and every byte
outside the partition is left untouched.`,
		Args: cobra.ExactArgs(3),
		RunE: runErase,
	}
}

func loadTable(path string) (partition.Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition table: %w", err)
	}
	defer f.Close()

	table, err := partition.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func runErase(cmd *cobra.Command, args []string) error {
	tablePath, imagePath, name := args[0], args[1], args[2]

	table, err := loadTable(tablePath)
	if err != nil {
		return err
	}

	region, err := table.Resolve(name)
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "partition resolved", "name", name, "offset", fmt.Sprintf("0x%x", region.Offset), "size", region.Size)

	bar := progressbar.NewOptions64(int64(region.Size),
		progressbar.OptionSetDescription("Clearing "+name),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	e := eraser.New(fs)
	e.SetProgressCallback(func(current, total int64) {
		bar.Set64(current)
	})

	fmt.Printf("Clearing %s at 0x%x (0x%x bytes) in %s\n", name, region.Offset, region.Size, imagePath)
	if _, err := e.ErasePartition(table, imagePath, name); err != nil {
		return err
	}
	bar.Finish()

	fmt.Printf("Partition %s cleared successfully\n", name)
	return nil
}
