// Package virtio holds constants shared by every virtio-mmio device
// implemented in this module: device class ids and the fixed transport
// identification values a guest driver reads during the init handshake.
package virtio

import "fmt"

// DeviceID identifies the type of a virtio device.
type DeviceID uint32

const (
	InvalidDeviceID = DeviceID(0)
	BlockDeviceID   = DeviceID(2)
	NinePDeviceID   = DeviceID(9)
)

const (
	// MagicValue is the constant guests read at MMIO offset 0x000 ("virt").
	MagicValue = 0x74726976

	// Version is the virtio-mmio transport version this module implements.
	// Only the "version 2" (1.0+) layout is supported; the legacy v1
	// layout (guest-page-size register, QueuePFN) is a Non-goal.
	Version = 0x2

	// VendorID is the fixed vendor id every device on this bus reports.
	VendorID = 0xffff
)

// FVersion1 (VIRTIO_F_VERSION_1) signals compliance with the 1.0+ transport.
// It's reported as bit 32 of the feature bitmap regardless of device type,
// via the device-features-selector half 1 read (see virtio/mmio).
const FVersion1 = 1 << 32

func (id DeviceID) String() string {
	switch id {
	case InvalidDeviceID:
		return "invalid"

	case BlockDeviceID:
		return "block"

	case NinePDeviceID:
		return "9p"

	default:
		return fmt.Sprintf("DeviceID(%d)", id)
	}
}
