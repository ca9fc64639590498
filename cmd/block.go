package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c35s/hype/virtio/block"
	"github.com/c35s/hype/virtio/mmio"
)

// NewBlockDeviceCommand builds the "blockdevice" command, the cobra
// realization of the original plugin's img=/mode= argument pair (spec §6).
func NewBlockDeviceCommand() *cobra.Command {
	var img, mode string

	cmd := &cobra.Command{
		Use:   "blockdevice",
		Short: "instantiate a virtio block device from a disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := loadPluginDefaults()
			if err != nil {
				return err
			}

			if mode == "" {
				mode = defaults.BlockMode
			}

			bf, err := block.Open(img, block.ParseMode(mode))
			if err != nil {
				return fmt.Errorf("open %s: %w", img, err)
			}

			defer bf.Close()

			dev := block.New(bf)
			bus := mmio.NewBus(nopMemory{}, nopInterruptController{}, []mmio.Backend{dev})
			info := bus.Devices()[0]

			fmt.Printf("block device: %d sectors, mode=%s\n", bf.SectorCount(), mode)
			emitDeviceTree(stdoutDeviceTreeSink{}, info)

			return nil
		},
	}

	cmd.Flags().StringVar(&img, "img", "", "path to the disk image (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "ro, rw, or snapshot (default rw)")
	cmd.MarkFlagRequired("img")

	return cmd
}
