// Package mem implements the guest-memory accessor described in spec §4.1:
// typed little-endian load/store against a guest physical address, funneled
// through the simulator's sim.Memory debug MMU. All virtqueue, descriptor,
// and payload access in this module goes through an Accessor.
package mem

import (
	"encoding/binary"

	"github.com/c35s/hype/sim"
)

// pageSize is the chunking granularity for multi-byte transfers, matching
// the original implementation's VIRTIO_PAGE_SIZE: each chunk is resolved
// against guest RAM independently so a transfer can span pages that aren't
// contiguous in the host's own address space.
const pageSize = 4096

// Accessor is a narrow little-endian load/store interface over guest
// physical memory. It does not itself fail on out-of-range addresses: a
// sim.Memory implementation that can't service an address is a host-side
// fault and is expected to panic, per spec §4.1.
type Accessor struct {
	mem sim.Memory
}

// New returns an Accessor backed by mem.
func New(mem sim.Memory) *Accessor {
	return &Accessor{mem: mem}
}

// Load8 reads a single byte at addr.
func (a *Accessor) Load8(addr uint64) uint8 {
	var buf [1]byte
	a.loadAt(addr, buf[:])
	return buf[0]
}

// Store8 writes a single byte at addr.
func (a *Accessor) Store8(addr uint64, v uint8) {
	a.storeAt(addr, []byte{v})
}

// Load16 reads a little-endian uint16 at addr.
func (a *Accessor) Load16(addr uint64) uint16 {
	var buf [2]byte
	a.loadAt(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

// Store16 writes a little-endian uint16 at addr.
func (a *Accessor) Store16(addr uint64, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	a.storeAt(addr, buf[:])
}

// Load32 reads a little-endian uint32 at addr.
func (a *Accessor) Load32(addr uint64) uint32 {
	var buf [4]byte
	a.loadAt(addr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// Store32 writes a little-endian uint32 at addr.
func (a *Accessor) Store32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	a.storeAt(addr, buf[:])
}

// Load64 reads a little-endian uint64 at addr.
func (a *Accessor) Load64(addr uint64) uint64 {
	var buf [8]byte
	a.loadAt(addr, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Store64 writes a little-endian uint64 at addr.
func (a *Accessor) Store64(addr uint64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	a.storeAt(addr, buf[:])
}

// CopyFrom copies len(p) bytes from guest memory starting at addr into p,
// chunked at page boundaries so each chunk is resolved against guest RAM
// independently.
func (a *Accessor) CopyFrom(addr uint64, p []byte) {
	a.loadAt(addr, p)
}

// CopyTo copies p into guest memory starting at addr, chunked at page
// boundaries.
func (a *Accessor) CopyTo(addr uint64, p []byte) {
	a.storeAt(addr, p)
}

func (a *Accessor) loadAt(addr uint64, p []byte) {
	for len(p) > 0 {
		n := chunkLen(addr, len(p))
		if err := a.mem.LoadAt(addr, p[:n]); err != nil {
			panic(err)
		}

		addr += uint64(n)
		p = p[n:]
	}
}

func (a *Accessor) storeAt(addr uint64, p []byte) {
	for len(p) > 0 {
		n := chunkLen(addr, len(p))
		if err := a.mem.StoreAt(addr, p[:n]); err != nil {
			panic(err)
		}

		addr += uint64(n)
		p = p[n:]
	}
}

// chunkLen returns how many of the remaining bytes can be transferred
// before crossing a page boundary.
func chunkLen(addr uint64, remaining int) int {
	n := pageSize - int(addr%pageSize)
	if n > remaining {
		n = remaining
	}

	return n
}
