package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/bigbag/parttool/internal/config"
	"github.com/bigbag/parttool/internal/envname"
	"github.com/bigbag/parttool/internal/layout"
)

var generateFlags struct {
	configPath string
	buildDir   string
	env        string
	launchJSON string
	envCommand string
	tablePath  string
	offsetPath string
	sizePath   string
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the partition table for the compiled firmware",
		Long: `Generate sizes the app partition from the compiled firmware.bin plus the
configured tolerance, fills the rest of the flash with littlefs and writes
the partition table together with the littlefs offset and size files.

When no firmware has been built yet the bundled default table is written
instead and the command succeeds.`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}

	f := cmd.Flags()
	f.StringVar(&generateFlags.configPath, "config", "in/fsConfig.ini", "Config file with tolerance and flashSize")
	f.StringVar(&generateFlags.buildDir, "build-dir", "../../../.pio/build", "PlatformIO build directory")
	f.StringVar(&generateFlags.env, "env", "", "Build environment name (resolved automatically if empty)")
	f.StringVar(&generateFlags.launchJSON, "launch-json", "../../../.vscode/launch.json", "PlatformIO launch.json used to find the environment")
	f.StringVar(&generateFlags.envCommand, "env-command", "", "Command printing the environment name")
	f.StringVar(&generateFlags.tablePath, "table", "in/partitions.csv", "Output partition table")
	f.StringVar(&generateFlags.offsetPath, "offset-file", "in/offset.txt", "Output file for the littlefs offset")
	f.StringVar(&generateFlags.sizePath, "size-file", "in/size.txt", "Output file for the littlefs size")

	return cmd
}

func environmentResolver() envname.Resolver {
	if generateFlags.env != "" {
		return envname.Static(generateFlags.env)
	}

	resolvers := []envname.Resolver{envname.Env("PIO_ENV")}
	if generateFlags.envCommand != "" {
		resolvers = append(resolvers, envname.Command{
			Name: "/bin/sh",
			Args: []string{"-c", generateFlags.envCommand},
		})
	}
	resolvers = append(resolvers, envname.LaunchConfig{FS: fs, Path: generateFlags.launchJSON})

	return envname.First(resolvers...)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(fs, generateFlags.configPath)
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "config loaded", "tolerance", cfg.TolerancePercent, "flash_mb", cfg.FlashSizeMB)

	g := layout.NewGenerator(fs, layout.Options{
		BuildDir:    generateFlags.buildDir,
		Environment: environmentResolver(),
		TablePath:   generateFlags.tablePath,
		OffsetPath:  generateFlags.offsetPath,
		SizePath:    generateFlags.sizePath,
	}, logger)

	result, err := g.Run(cmd.Context(), *cfg)
	if layout.IsFirmwareMissing(err) {
		fmt.Println("There is no firmware.bin file, assuming it failed to compile because of the partition size.")
		fmt.Printf("Copied the default partition table to %s\n", generateFlags.tablePath)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Partition table written to %s\n", generateFlags.tablePath)
	for _, e := range result.Table {
		fmt.Printf("  %-10s %s\n", e.Name, humanize.IBytes(e.Size))
	}
	fmt.Printf("Flash used before littlefs: 0x%x\n", result.UsedFlash)

	return nil
}
