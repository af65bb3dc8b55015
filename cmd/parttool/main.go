package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	verboseFlag bool

	logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	fs                = afero.NewOsFs()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parttool",
		Short: "Generate and manipulate ESP32 partition tables",
		Long: `parttool sizes the partition table of an ESP32 firmware build and
clears individual partitions in flash images or on connected devices.

The application partition is sized from the compiled firmware plus a
tolerance margin; whatever flash remains becomes the littlefs partition.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				logger = level.NewFilter(logger, level.AllowDebug())
			} else {
				logger = level.NewFilter(logger, level.AllowInfo())
			}
			logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("parttool %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(
		newGenerateCmd(),
		newEraseCmd(),
		newShowCmd(),
		newEraseDeviceCmd(),
		newInfoCmd(),
		newListCmd(),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
