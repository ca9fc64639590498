// Package cmd implements the plugin CLI surface described in spec §6: a
// small cobra application that turns key=value plugin arguments into a
// running virtio-mmio device and a device-tree fragment for the host
// simulator to splice into its own tree.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "hype-virtio",
	Short: "construct a virtio-mmio device from plugin arguments",
	Long: `hype-virtio builds a single virtio-mmio device (block or 9P) from the
key=value style arguments the host simulator passes to a device plugin,
and prints the device's device-tree fragment and MMIO placement.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(NewBlockDeviceCommand())
	rootCmd.AddCommand(NewNinePDeviceCommand())
}

// Execute runs the root command, printing any error to stdout and
// terminating the process, per spec §6's "print a diagnostic to stdout and
// terminate" contract for a missing or invalid plugin argument.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
