package block

import (
	"encoding/binary"
	"log/slog"

	"github.com/c35s/hype/virtio"
	"github.com/c35s/hype/virtio/mem"
	"github.com/c35s/hype/virtio/virtq"
)

// request types, as laid out in the 16-byte block request header
const (
	reqIn       = 0
	reqOut      = 1
	reqFlush    = 4
	reqFlushOut = 5
)

// status bytes written back to the guest
const (
	statusOK     = 0
	statusIOErr  = 1
	statusUnsupp = 2
)

const reqHeaderSize = 16

// Device is a VirtIO block device riding the virtq transport.
type Device struct {
	backend *File

	// inProgress gates concurrent dispatch on the device's single queue.
	// The backend in this module is always synchronous and every request
	// completes inside RecvRequest, so nothing sets it; Reset clears it.
	// The field is kept so a threaded backend could latch it across a real
	// completion.
	inProgress bool
}

// New returns a block device serving backend.
func New(backend *File) *Device {
	return &Device{backend: backend}
}

func (d *Device) DeviceID() virtio.DeviceID {
	return virtio.BlockDeviceID
}

func (d *Device) Features() uint64 {
	return 0
}

// ConfigSpace returns the 8-byte little-endian sector count.
func (d *Device) ConfigSpace() []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], d.backend.SectorCount())
	return buf[:]
}

// ConfigWrite is a no-op; capacity is not guest-writable.
func (d *Device) ConfigWrite(off int, p []byte) {}

func (d *Device) Reset() {
	d.inProgress = false
}

func (d *Device) RecvRequest(m *mem.Accessor, q *virtq.Queue, head uint16, readSize, writeSize int) int {
	if d.inProgress {
		return -1
	}

	var hdr [reqHeaderSize]byte
	if err := q.Copy(m, hdr[:], head, 0, reqHeaderSize, false); err != nil {
		slog.Error("block: failed to read request header", "err", err)
		q.Consume(m, head, 0)
		return 0
	}

	reqType := binary.LittleEndian.Uint32(hdr[0:4])
	sector := binary.LittleEndian.Uint64(hdr[8:16])

	switch reqType {
	case reqIn:
		d.handleIn(m, q, head, sector, writeSize)

	case reqOut:
		d.handleOut(m, q, head, sector, readSize, writeSize)

	case reqFlush, reqFlushOut:
		// The original dispatcher falls into its default branch here and
		// never replies, wedging the guest; this device acks with OK
		// instead since flush has no work to do against File.
		d.writeStatusAndConsume(m, q, head, statusOK, writeSize)

	default:
		d.writeStatusAndConsume(m, q, head, statusUnsupp, writeSize)
	}

	return 0
}

func (d *Device) handleIn(m *mem.Accessor, q *virtq.Queue, head uint16, sector uint64, writeSize int) {
	if writeSize < 1 {
		d.writeStatusAndConsume(m, q, head, statusIOErr, writeSize)
		return
	}

	buf := make([]byte, writeSize)
	count := uint64((writeSize - 1) / SectorSize)

	status := byte(statusOK)
	if err := d.backend.Read(sector, count, buf[:count*SectorSize]); err != nil {
		status = statusIOErr
	}

	buf[writeSize-1] = status

	if err := q.Copy(m, buf, head, 0, writeSize, true); err != nil {
		slog.Error("block: failed to scatter read reply", "err", err)
	}

	q.Consume(m, head, writeSize)
}

func (d *Device) handleOut(m *mem.Accessor, q *virtq.Queue, head uint16, sector uint64, readSize, writeSize int) {
	if writeSize < 1 {
		d.writeStatusAndConsume(m, q, head, statusIOErr, writeSize)
		return
	}

	n := readSize - reqHeaderSize
	status := byte(statusOK)

	if n > 0 {
		buf := make([]byte, n)
		if err := q.Copy(m, buf, head, reqHeaderSize, n, false); err != nil {
			slog.Error("block: failed to gather write payload", "err", err)
			status = statusIOErr
		} else if err := d.backend.Write(sector, uint64(n/SectorSize), buf); err != nil {
			status = statusIOErr
		}
	}

	d.writeStatusAndConsume(m, q, head, status, writeSize)
}

func (d *Device) writeStatusAndConsume(m *mem.Accessor, q *virtq.Queue, head uint16, status byte, writeSize int) {
	if writeSize >= 1 {
		if err := q.Copy(m, []byte{status}, head, 0, 1, true); err != nil {
			slog.Error("block: failed to write status byte", "err", err)
		}

		q.Consume(m, head, 1)
		return
	}

	q.Consume(m, head, 0)
}
