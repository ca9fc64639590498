package cmd

import (
	"fmt"

	"github.com/c35s/hype/sim"
	"github.com/c35s/hype/virtio/mmio"
)

// stdoutDeviceTreeSink is the plugin CLI's sim.DeviceTreeSink: with no real
// simulator attached, it renders the fragment the simulator's own FDT
// builder would otherwise splice in, and prints it to stdout.
type stdoutDeviceTreeSink struct{}

var _ sim.DeviceTreeSink = stdoutDeviceTreeSink{}

func (stdoutDeviceTreeSink) AddVirtioMMIONode(base, size uint64, irq int) {
	fmt.Println(deviceTreeFragment(base, size, irq))
}

// deviceTreeFragment renders the flattened device-tree fragment spec §6
// says the plugin must produce at init time.
func deviceTreeFragment(base, size uint64, irq int) string {
	addrHi := uint32(base >> 32)
	addrLo := uint32(base)
	sizeHi := uint32(size >> 32)
	sizeLo := uint32(size)

	return fmt.Sprintf(
		"virtio@%x { compatible = \"virtio,mmio\"; interrupt-parent = <&PLIC>; interrupts = <%d>; reg = <%#x %#x %#x %#x>; }",
		base, irq, addrHi, addrLo, sizeHi, sizeLo,
	)
}

// emitDeviceTree feeds info to sink the way the host simulator's own
// device-tree builder is fed once a device is installed on a real Bus.
func emitDeviceTree(sink sim.DeviceTreeSink, info mmio.DeviceInfo) {
	sink.AddVirtioMMIONode(info.Addr, info.Size, info.IRQ)
}
