package mmio

import (
	"encoding/binary"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c35s/hype/sim"
	"github.com/c35s/hype/virtio"
	"github.com/c35s/hype/virtio/irq"
	"github.com/c35s/hype/virtio/mem"
	"github.com/c35s/hype/virtio/virtq"
)

// Backend is the capability set a concrete device (block, 9P) implements so
// the transport can drive it, per Design Notes §9's VirtioBackend proposal.
type Backend interface {
	// DeviceID identifies the device's class (2 = block, 9 = 9P).
	DeviceID() virtio.DeviceID

	// Features returns feature bits beyond the bits every device reports.
	Features() uint64

	// ConfigSpace returns the device's current config-space bytes. The
	// returned slice is read fresh on every config-space MMIO read.
	ConfigSpace() []byte

	// ConfigWrite is called when the guest writes bytes at offset off of
	// config space.
	ConfigWrite(off int, p []byte)

	// RecvRequest handles a drained descriptor chain headed at head on q,
	// transferring through m. It returns negative to stall the drain loop
	// (the device will resume it later), 0 otherwise.
	RecvRequest(m *mem.Accessor, q *virtq.Queue, head uint16, readSize, writeSize int) int

	// Reset drops any request in flight and returns the device to its
	// post-reset state.
	Reset()
}

// baseAddr and baseIRQ mirror the original Spike plugin's single-device
// placement (VIRTIO_BASE_ADDR, VIRTIO_IRQ); installing more than one device
// walks both forward by one MMIO page / IRQ number per device.
const (
	baseAddr = 0x40010000
	baseIRQ  = 1
)

var le = binary.LittleEndian

// Bus is a virtio-mmio bus: a guest-memory accessor shared by every
// installed device, plus the devices themselves.
type Bus struct {
	mem     *mem.Accessor
	devices []*device
}

type device struct {
	info    DeviceInfo
	backend Backend
	line    *irq.Line
	id      uuid.UUID

	featuresSel uint32
	status      uint32
	intStatus   uint32
	queueSel    uint32
	queues      [MaxQueue]virtq.Queue
}

// NewBus installs a device for each backend, in order, at consecutive 4 KiB
// MMIO regions and IRQ numbers starting at the original plugin's fixed
// placement.
func NewBus(memory sim.Memory, ic sim.InterruptController, backends []Backend) *Bus {
	b := &Bus{mem: mem.New(memory)}

	addr := uint64(baseAddr)
	irqNum := baseIRQ

	for _, be := range backends {
		d := &device{
			info: DeviceInfo{
				Type: be.DeviceID(),
				IRQ:  irqNum,
				Addr: addr,
				Size: Size,
			},

			backend: be,
			line:    irq.New(ic, irqNum),
			id:      uuid.New(),
		}

		for i := range d.queues {
			d.queues[i].SetNotify(d.noteUsedBuffer)
		}

		d.reset()
		b.devices = append(b.devices, d)

		addr += Size
		irqNum++
	}

	return b
}

// Devices describes every installed device's MMIO placement, for device-tree
// emission.
func (b *Bus) Devices() []DeviceInfo {
	dd := make([]DeviceInfo, len(b.devices))
	for i, d := range b.devices {
		dd[i] = d.info
	}

	return dd
}

// HandleMMIO routes a guest load or store to the device occupying addr. It
// returns false if no installed device covers addr.
func (b *Bus) HandleMMIO(addr uint64, data []byte, isWrite bool) (found bool) {
	for _, d := range b.devices {
		if addr >= d.info.Addr && addr < d.info.Addr+d.info.Size {
			d.handleMMIO(b.mem, int(addr-d.info.Addr), data, isWrite)
			return true
		}
	}

	return false
}

func (d *device) handleMMIO(m *mem.Accessor, off int, data []byte, isWrite bool) {
	if off >= regConfigStart {
		d.handleConfig(off-regConfigStart, data, isWrite)
		return
	}

	switch len(data) {
	case 4:
		d.handle32(m, off, data, isWrite)

	case 8:
		if off%4 != 0 {
			zeroOrDrop(data, isWrite)
			return
		}

		d.handle32(m, off, data[0:4], isWrite)
		d.handle32(m, off+4, data[4:8], isWrite)

	default:
		// Sub-word accesses to non-config registers aren't meaningful in
		// this transport; per spec conformance they read as 0 and drop on
		// write, rather than falling through to the 32-bit handler.
		zeroOrDrop(data, isWrite)
	}
}

func zeroOrDrop(p []byte, isWrite bool) {
	if !isWrite {
		clear(p)
	}
}

func (d *device) handle32(m *mem.Accessor, off int, p []byte, isWrite bool) {
	if off%4 != 0 {
		zeroOrDrop(p, isWrite)
		return
	}

	if isWrite {
		d.writeReg(m, off, le.Uint32(p))
	} else {
		le.PutUint32(p, d.readReg(off))
	}
}

func (d *device) readReg(off int) uint32 {
	switch off {
	case regMagicValue:
		return virtio.MagicValue

	case regVersion:
		return virtio.Version

	case regDeviceID:
		return uint32(d.backend.DeviceID())

	case regVendorID:
		return virtio.VendorID

	case regDeviceFeatures:
		switch d.featuresSel {
		case 0:
			return uint32(d.backend.Features())
		case 1:
			return 1 // signals VIRTIO_F_VERSION_1
		default:
			return 0
		}

	case regQueueNumMax:
		return virtq.MaxQueueNum

	case regQueueReady:
		if d.queues[d.queueSel].Ready {
			return 1
		}
		return 0

	case regInterruptStatus:
		return d.intStatus

	case regStatus:
		return d.status

	case regConfigGeneration:
		return 0

	default:
		return 0
	}
}

func (d *device) writeReg(m *mem.Accessor, off int, val uint32) {
	switch off {
	case regDeviceFeaturesSel:
		d.featuresSel = val

	case regQueueSel:
		if val < MaxQueue {
			d.queueSel = val
		} else {
			slog.Debug("virtio: QUEUE_SEL out of range", "val", val)
		}

	case regQueueNum:
		if val != 0 && val&(val-1) == 0 && val <= virtq.MaxQueueNum {
			d.queues[d.queueSel].Num = uint16(val)
		} else {
			slog.Debug("virtio: QUEUE_NUM rejected, not a power of two <= max", "val", val)
		}

	case regQueueReady:
		d.queues[d.queueSel].Ready = val&1 == 1

	case regQueueNotify:
		if val < MaxQueue {
			d.queueNotify(m, val)
		} else {
			slog.Debug("virtio: QUEUE_NOTIFY out of range", "val", val)
		}

	case regInterruptAck:
		d.intStatus &^= val
		if d.intStatus == 0 {
			d.line.Lower()
		}

	case regStatus:
		if val == 0 {
			d.reset()
			return
		}

		d.status = val

	case regQueueDescLow:
		setLow(&d.queues[d.queueSel].DescAddr, val)

	case regQueueDescHigh:
		setHigh(&d.queues[d.queueSel].DescAddr, val)

	case regQueueAvailLow:
		setLow(&d.queues[d.queueSel].AvailAddr, val)

	case regQueueAvailHigh:
		setHigh(&d.queues[d.queueSel].AvailAddr, val)

	case regQueueUsedLow:
		setLow(&d.queues[d.queueSel].UsedAddr, val)

	case regQueueUsedHigh:
		setHigh(&d.queues[d.queueSel].UsedAddr, val)
	}
}

func (d *device) handleConfig(off int, p []byte, isWrite bool) {
	if isWrite {
		d.backend.ConfigWrite(off, p)
		return
	}

	cfg := d.backend.ConfigSpace()
	if off < 0 || off >= len(cfg) {
		clear(p)
		return
	}

	n := copy(p, cfg[off:])
	clear(p[n:])
}

func (d *device) queueNotify(m *mem.Accessor, idx uint32) {
	q := &d.queues[idx]
	q.Drain(m, func(head uint16, readSize, writeSize int) int {
		return d.backend.RecvRequest(m, q, head, readSize, writeSize)
	})
}

func (d *device) noteUsedBuffer() {
	d.intStatus |= intStatusUsedBuffer
	d.line.Raise()
}

// noteConfigChange is available for devices whose config space mutates
// outside a guest write (none in this module do; block's capacity and 9P's
// mount tag are both fixed at construction), kept so a future device can
// raise INT_CONFIG the way the original virtio_config_change_notify did.
func (d *device) noteConfigChange() {
	d.intStatus |= intStatusConfigChange
	d.line.Raise()
}

func (d *device) reset() {
	slog.Debug("virtio device reset", "device", d.info.Type, "device_id", d.id)

	d.status = 0
	d.featuresSel = 0
	d.intStatus = 0
	d.queueSel = 0

	for i := range d.queues {
		d.queues[i].Reset()
	}

	d.line.Lower()
	d.backend.Reset()
}

func setLow(addr *uint64, val uint32) {
	*addr = (*addr &^ 0xffffffff) | uint64(val)
}

func setHigh(addr *uint64, val uint32) {
	*addr = (*addr & 0xffffffff) | uint64(val)<<32
}
