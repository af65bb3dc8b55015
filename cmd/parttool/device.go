package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/parttool/internal/device"
	"github.com/bigbag/parttool/internal/protocol"
	"github.com/bigbag/parttool/internal/serial"
)

var (
	portFlag   string
	baudFlag   int
	verifyFlag bool
	rebootFlag bool
)

func newEraseDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erase-device <partitions.csv> <name>",
		Short: "Zero a partition on a connected device",
		Long: `Erase-device finds the flash address the bootloader gives the named
partition and overwrites that range of a connected ESP32 with zeros through
the ROM bootloader. The partition must start and end on a 4KB sector.`,
		Args: cobra.ExactArgs(2),
		RunE: runEraseDevice,
	}
	cmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	cmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	cmd.Flags().BoolVar(&verifyFlag, "verify", true, "Verify after erasing")
	cmd.Flags().BoolVar(&rebootFlag, "reboot", true, "Reboot the device when done")
	return cmd
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Detect and show information about a connected ESP32 device.",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}
	cmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	cmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func findPort() (string, error) {
	if portFlag != "" {
		return portFlag, nil
	}

	fmt.Println("Detecting device...")
	info, err := device.Detect(baudFlag, logger)
	if err != nil {
		return "", fmt.Errorf("device detection failed: %w", err)
	}
	fmt.Printf("Found %s on %s\n", info.ChipName, info.Port)
	return info.Port, nil
}

func runEraseDevice(cmd *cobra.Command, args []string) error {
	table, err := loadTable(args[0])
	if err != nil {
		return err
	}
	region, err := table.Locate(args[1])
	if err != nil {
		return err
	}

	portName, err := findPort()
	if err != nil {
		return err
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)

	s := device.NewSession(port, logger)

	fmt.Println("Connecting to bootloader...")
	if err := s.Connect(); err != nil {
		return err
	}
	fmt.Println("Connected!")

	bar := progressbar.NewOptions(int(protocol.CalculateFlashBlocks(int(region.Size))),
		progressbar.OptionSetDescription("Clearing "+region.Name),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	s.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	fmt.Printf("Clearing %s at 0x%X (%d bytes)...\n", region.Name, region.Offset, region.Size)
	if err := s.ZeroRegion(region, verifyFlag); err != nil {
		return err
	}
	bar.Finish()
	fmt.Printf("\nPartition %s cleared\n", region.Name)

	if rebootFlag {
		fmt.Println("Rebooting device...")
		if err := s.Reboot(); err != nil {
			fmt.Printf("Warning: reboot failed: %v\n", err)
		}
	}

	fmt.Println("Done!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	var (
		info *device.Info
		err  error
	)
	if portFlag != "" {
		info, err = device.DetectOnPort(portFlag, baudFlag, logger)
		if err != nil {
			return fmt.Errorf("failed to detect device on %s: %w", portFlag, err)
		}
	} else {
		fmt.Println("Scanning for ESP32 devices...")
		info, err = device.Detect(baudFlag, logger)
		if err != nil {
			return err
		}
	}

	fmt.Printf("  Port:     %s\n", info.Port)
	fmt.Printf("  Chip:     %s\n", info.ChipName)
	if info.ChipID != 0 {
		fmt.Printf("  Chip ID:  0x%02X\n", info.ChipID)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
