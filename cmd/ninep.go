package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c35s/hype/virtio/mmio"
	"github.com/c35s/hype/virtio/ninep"
	"github.com/c35s/hype/virtio/ninep/hostfs"
)

// NewNinePDeviceCommand builds the "ninepdevice" command, the cobra
// realization of the original plugin's path=/tag= argument pair (spec §6).
func NewNinePDeviceCommand() *cobra.Command {
	var path, tag string

	cmd := &cobra.Command{
		Use:   "ninepdevice",
		Short: "instantiate a virtio 9P device serving a host directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := loadPluginDefaults()
			if err != nil {
				return err
			}

			if tag == "" {
				tag = defaults.NinePTag
			}

			root, err := hostfs.New(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}

			dev := ninep.NewDevice(root, tag)
			bus := mmio.NewBus(nopMemory{}, nopInterruptController{}, []mmio.Backend{dev})
			info := bus.Devices()[0]

			fmt.Printf("9p device: serving %s as %q\n", path, tag)
			emitDeviceTree(stdoutDeviceTreeSink{}, info)

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "host directory to serve (required)")
	cmd.Flags().StringVar(&tag, "tag", "", "mount tag (default /dev/root)")
	cmd.MarkFlagRequired("path")

	return cmd
}
