// Package virtq implements the split-ring descriptor-chain engine described
// in spec §4.3: descriptor fetch, chain sizing, gather/scatter transfer
// between guest memory and host buffers, used-ring consumption, and the
// queue_notify drain loop. Indirect descriptors (VRING_DESC_F_INDIRECT) are
// not implemented, per the module's Non-goals.
package virtq

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/c35s/hype/virtio/mem"
)

// descriptor flags (VRING_DESC_F_x)
const (
	DescFNext     = 1 // chain continues at Desc.Next
	DescFWrite    = 2 // buffer is device write-only (otherwise device read-only)
	DescFIndirect = 4 // not implemented
)

const descSize = 16

// MaxQueueNum is the largest ring size (QUEUE_NUM_MAX) this transport
// advertises, and the default Num a queue resets to.
const MaxQueueNum = 16

// Desc is a single 16-byte split-ring descriptor as laid out in guest
// memory.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// Queue holds one split virtqueue's transport-level state: readiness, ring
// size, the guest-physical addresses of its three ring regions, and the
// device's consumption position in the available ring.
//
// A Queue does not own any goroutine or channel; every method runs to
// completion on the caller's stack, matching the single-threaded
// cooperative model the rest of this module assumes.
type Queue struct {
	Ready bool

	// Num is the ring size. It must be a power of two and <= MaxQueueNum.
	Num uint16

	// LastAvailIdx is the next available-ring slot the device will consume,
	// compared against the guest's avail.idx modulo 2^16.
	LastAvailIdx uint16

	DescAddr  uint64
	AvailAddr uint64
	UsedAddr  uint64

	// ManualRecv, when set, makes Drain a no-op. Reserved for devices that
	// drive reception from outside the queue_notify path.
	ManualRecv bool

	// notify is called after every used-ring write; the owning device wires
	// this to set its sticky interrupt-status bit and raise its IRQ line.
	notify func()
}

// SetNotify installs the callback Consume invokes after publishing a
// used-ring entry.
func (q *Queue) SetNotify(fn func()) {
	q.notify = fn
}

// Reset clears the queue back to its post-reset defaults: not ready, no
// addresses, no consumption progress, ring size at the transport maximum.
func (q *Queue) Reset() {
	*q = Queue{Num: MaxQueueNum, notify: q.notify}
}

// GetDesc reads the descriptor at index idx from the descriptor table.
func (q *Queue) GetDesc(m *mem.Accessor, idx uint16) Desc {
	var buf [descSize]byte
	m.CopyFrom(q.DescAddr+uint64(idx)*descSize, buf[:])

	return Desc{
		Addr:  binary.LittleEndian.Uint64(buf[0:8]),
		Len:   binary.LittleEndian.Uint32(buf[8:12]),
		Flags: binary.LittleEndian.Uint16(buf[12:14]),
		Next:  binary.LittleEndian.Uint16(buf[14:16]),
	}
}

// RWSize walks the chain starting at head, summing the leading
// device-read-only span into readSize and the trailing device-write-only
// span into writeSize. A flag transition back to read after a write, an
// indirect descriptor, or a chain that doesn't terminate is a protocol
// error.
func (q *Queue) RWSize(m *mem.Accessor, head uint16) (readSize, writeSize int, err error) {
	idx := head
	d := q.GetDesc(m, idx)

	// A chain longer than the ring can only be a loop.
	steps := 1

	for {
		if d.Flags&DescFIndirect != 0 {
			return 0, 0, unix.EPROTO
		}

		if d.Flags&DescFWrite != 0 {
			break
		}

		readSize += int(d.Len)

		if d.Flags&DescFNext == 0 {
			return readSize, 0, nil
		}

		if steps++; steps > int(q.Num) {
			return 0, 0, unix.EPROTO
		}

		idx = d.Next
		d = q.GetDesc(m, idx)
	}

	for {
		if d.Flags&DescFIndirect != 0 {
			return 0, 0, unix.EPROTO
		}

		if d.Flags&DescFWrite == 0 {
			return 0, 0, unix.EPROTO
		}

		writeSize += int(d.Len)

		if d.Flags&DescFNext == 0 {
			break
		}

		if steps++; steps > int(q.Num) {
			return 0, 0, unix.EPROTO
		}

		idx = d.Next
		d = q.GetDesc(m, idx)
	}

	return readSize, writeSize, nil
}

// Copy gathers count bytes from the chain's read-only span into buf when
// toQueue is false, or scatters count bytes from buf into the chain's
// write-only span when toQueue is true, starting at byte offset offset
// within that span. The engine refuses to cross the read/write boundary
// mid-transfer.
func (q *Queue) Copy(m *mem.Accessor, buf []byte, head uint16, offset, count int, toQueue bool) error {
	if count == 0 {
		return nil
	}

	idx := head
	d := q.GetDesc(m, idx)

	for (d.Flags&DescFWrite != 0) != toQueue {
		if d.Flags&DescFNext == 0 {
			return unix.EPROTO
		}

		idx = d.Next
		d = q.GetDesc(m, idx)
	}

	for offset >= int(d.Len) {
		offset -= int(d.Len)

		if d.Flags&DescFNext == 0 {
			return unix.EPROTO
		}

		idx = d.Next
		d = q.GetDesc(m, idx)

		if (d.Flags&DescFWrite != 0) != toQueue {
			return unix.EPROTO
		}
	}

	for {
		n := int(d.Len) - offset
		if n > count {
			n = count
		}

		if toQueue {
			m.CopyTo(d.Addr+uint64(offset), buf[:n])
		} else {
			m.CopyFrom(d.Addr+uint64(offset), buf[:n])
		}

		count -= n
		buf = buf[n:]

		if count == 0 {
			return nil
		}

		offset += n

		if offset == int(d.Len) {
			if d.Flags&DescFNext == 0 {
				return unix.EPROTO
			}

			idx = d.Next
			d = q.GetDesc(m, idx)

			if (d.Flags&DescFWrite != 0) != toQueue {
				return unix.EPROTO
			}

			offset = 0
		}
	}
}

// Consume publishes a used-ring entry for the chain headed at head,
// reporting writtenLen bytes written, then notifies the owning device. The
// used-index write is ordered after the slot write, matching the VirtIO
// contract that the guest driver only trusts a used-ring slot once the
// index covering it has advanced.
func (q *Queue) Consume(m *mem.Accessor, head uint16, writtenLen int) {
	idx := m.Load16(q.UsedAddr + 2)
	slot := q.UsedAddr + 4 + uint64(idx%q.Num)*8

	m.Store32(slot, uint32(head))
	m.Store32(slot+4, uint32(writtenLen))
	m.Store16(q.UsedAddr+2, idx+1)

	if q.notify != nil {
		q.notify()
	}
}

// Drain processes every chain the driver has made available since the last
// call, invoking recv for each. If recv returns negative, the device has
// claimed the request slot and will drive its own resumption; Drain stops
// without advancing past that chain. ManualRecv makes Drain a no-op.
func (q *Queue) Drain(m *mem.Accessor, recv func(head uint16, readSize, writeSize int) int) {
	if q.ManualRecv {
		return
	}

	availIdx := m.Load16(q.AvailAddr + 2)

	for q.LastAvailIdx != availIdx {
		slot := q.AvailAddr + 4 + uint64(q.LastAvailIdx%q.Num)*2
		head := m.Load16(slot)

		if readSize, writeSize, err := q.RWSize(m, head); err == nil {
			if recv(head, readSize, writeSize) < 0 {
				return
			}
		} else {
			// The head is already identified, so it must still be consumed:
			// a malformed chain dropped here with nothing written back would
			// wedge the guest's avail/used ring bookkeeping forever.
			q.Consume(m, head, 0)
		}

		q.LastAvailIdx++
	}
}
