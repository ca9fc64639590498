// Package mmio implements the virtio-mmio register file described in spec
// §4.4: feature/status negotiation, per-queue configuration, notify kicks,
// interrupt acks, and device-specific config space, bit-exact with the
// VirtIO 1.x ("version 2") MMIO transport.
package mmio

import "github.com/c35s/hype/virtio"

// DeviceInfo describes an installed virtio-mmio device's placement on the
// guest physical address space.
type DeviceInfo struct {
	Type virtio.DeviceID
	IRQ  int
	Addr uint64
	Size uint64
}

// interrupt status bits (INTERRUPT_STATUS / INTERRUPT_ACK)
const (
	intStatusUsedBuffer   = 1 << 0 // the device has used at least 1 buffer
	intStatusConfigChange = 1 << 1 // the device configuration changed
)

// mmio register offsets, as tabled in spec §4.4
const (
	regMagicValue        = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regInterruptStatus   = 0x060
	regInterruptAck      = 0x064
	regStatus            = 0x070
	regQueueDescLow      = 0x080
	regQueueDescHigh     = 0x084
	regQueueAvailLow     = 0x090
	regQueueAvailHigh    = 0x094
	regQueueUsedLow      = 0x0a0
	regQueueUsedHigh     = 0x0a4
	regConfigGeneration  = 0x0fc
	regConfigStart       = 0x100
)

// MaxQueue is the number of queue slots a device exposes (MAX_QUEUE).
const MaxQueue = 8

// MaxConfigSpace is the largest device-specific config space this
// transport supports.
const MaxConfigSpace = 256

// Size is the MMIO region every device occupies.
const Size = 0x1000
