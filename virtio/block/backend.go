// Package block implements the host block backend and VirtIO block device
// described in spec §4.5/§4.6: sector-addressed I/O over a host file with
// RO/RW/snapshot modes, and the device that rides the virtq transport to
// serve IN/OUT/FLUSH requests.
package block

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed sector size this backend addresses in.
const SectorSize = 512

// Mode selects how File treats writes.
type Mode int

const (
	// ModeRO refuses every write.
	ModeRO Mode = iota

	// ModeRW writes positionally into the backing file; it is the sole
	// store for the image.
	ModeRW

	// ModeSnapshot reads through to the backing file until a sector is
	// written, after which that sector is served from an in-memory
	// override; the backing file is never mutated.
	ModeSnapshot
)

// ParseMode maps the plugin's mode= argument to a Mode, defaulting to
// ModeRW for anything other than "ro" and "snapshot", matching the
// original plugin's fallthrough.
func ParseMode(s string) Mode {
	switch s {
	case "ro":
		return ModeRO
	case "snapshot":
		return ModeSnapshot
	default:
		return ModeRW
	}
}

// File is a sector-addressed host block backend.
type File struct {
	f       *os.File
	sectors uint64
	mode    Mode

	// overrides holds snapshot-mode sectors that have been written. A nil
	// entry is never stored; absence means "read through to the file".
	overrides map[uint64]*[SectorSize]byte
}

// Open opens path for use as a block backend in the given mode. RO and
// snapshot modes open the file read-only; RW opens it for read-write.
func Open(path string, mode Mode) (*File, error) {
	flag := os.O_RDWR
	if mode != ModeRW {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open block image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block image: %w", err)
	}

	bf := &File{
		f:       f,
		sectors: uint64(fi.Size()) / SectorSize,
		mode:    mode,
	}

	if mode == ModeSnapshot {
		bf.overrides = make(map[uint64]*[SectorSize]byte)
	}

	return bf, nil
}

// Close releases the underlying file handle.
func (bf *File) Close() error {
	return bf.f.Close()
}

// SectorCount returns the image's total sector count.
func (bf *File) SectorCount() uint64 {
	return bf.sectors
}

// Read fills buf (which must be exactly count*SectorSize bytes) starting at
// sector. Snapshot mode consults each sector's override before falling back
// to the file.
func (bf *File) Read(sector, count uint64, buf []byte) error {
	if bf.mode != ModeSnapshot {
		_, err := bf.f.ReadAt(buf[:count*SectorSize], int64(sector*SectorSize))
		return err
	}

	for i := uint64(0); i < count; i++ {
		dst := buf[i*SectorSize : (i+1)*SectorSize]
		s := sector + i

		if ov, ok := bf.overrides[s]; ok {
			copy(dst, ov[:])
			continue
		}

		if _, err := bf.f.ReadAt(dst, int64(s*SectorSize)); err != nil {
			return err
		}
	}

	return nil
}

// Write writes count*SectorSize bytes from buf starting at sector. RO mode
// always fails. RW mode writes directly into the file. Snapshot mode
// allocates a per-sector override on first touch and never mutates the
// file; writes that would extend past the image's original sector count
// fail.
func (bf *File) Write(sector, count uint64, buf []byte) error {
	switch bf.mode {
	case ModeRO:
		return unix.EROFS

	case ModeRW:
		_, err := bf.f.WriteAt(buf[:count*SectorSize], int64(sector*SectorSize))
		return err

	case ModeSnapshot:
		if sector+count > bf.sectors {
			return unix.ENOSPC
		}

		for i := uint64(0); i < count; i++ {
			s := sector + i
			ov := bf.overrides[s]
			if ov == nil {
				ov = new([SectorSize]byte)
				bf.overrides[s] = ov
			}

			copy(ov[:], buf[i*SectorSize:(i+1)*SectorSize])
		}

		return nil

	default:
		panic("block: unreachable mode")
	}
}
