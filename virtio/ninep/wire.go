// Package ninep implements the 9P2000.L server described in spec §4.7: a
// T-message dispatcher for a fixed operation subset, a FID table, and the
// marshalling grammar shared by every reply.
package ninep

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// QID is a 9P unique file identifier: type, version, and path.
type QID struct {
	Type    uint8
	Version uint32
	Path    uint64
}

const qidSize = 13

// Marshal encodes values according to format, one code per value. Codes are
// b (u8), h (u16), w (u32), d (u64), s (u16-length-prefixed string), and Q
// (13-byte QID). It panics if a value's type doesn't match its code or the
// code/value counts differ, since a mismatch here is a programming error in
// the caller, never a guest-driven condition.
func Marshal(format string, values ...any) []byte {
	if len(format) != len(values) {
		panic(fmt.Sprintf("ninep: Marshal: %d codes, %d values", len(format), len(values)))
	}

	var buf []byte

	for i, c := range format {
		switch c {
		case 'b':
			buf = append(buf, values[i].(uint8))

		case 'h':
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], values[i].(uint16))
			buf = append(buf, tmp[:]...)

		case 'w':
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], values[i].(uint32))
			buf = append(buf, tmp[:]...)

		case 'd':
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], values[i].(uint64))
			buf = append(buf, tmp[:]...)

		case 's':
			s := values[i].(string)
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], uint16(len(s)))
			buf = append(buf, tmp[:]...)
			buf = append(buf, s...)

		case 'Q':
			q := values[i].(QID)
			var tmp [qidSize]byte
			tmp[0] = q.Type
			binary.LittleEndian.PutUint32(tmp[1:], q.Version)
			binary.LittleEndian.PutUint64(tmp[5:], q.Path)
			buf = append(buf, tmp[:]...)

		default:
			panic(fmt.Sprintf("ninep: Marshal: unknown format code %q", c))
		}
	}

	return buf
}

// Unmarshal decodes data according to format into slots, which must be
// pointers matching each code's Go type. It returns the number of bytes
// consumed, or unix.EPROTO if data is too short for the format.
func Unmarshal(format string, data []byte, slots ...any) (int, error) {
	if len(format) != len(slots) {
		panic(fmt.Sprintf("ninep: Unmarshal: %d codes, %d slots", len(format), len(slots)))
	}

	off := 0

	for i, c := range format {
		switch c {
		case 'b':
			if off+1 > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*uint8) = data[off]
			off++

		case 'h':
			if off+2 > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*uint16) = binary.LittleEndian.Uint16(data[off:])
			off += 2

		case 'w':
			if off+4 > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*uint32) = binary.LittleEndian.Uint32(data[off:])
			off += 4

		case 'd':
			if off+8 > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*uint64) = binary.LittleEndian.Uint64(data[off:])
			off += 8

		case 's':
			if off+2 > len(data) {
				return 0, unix.EPROTO
			}
			n := int(binary.LittleEndian.Uint16(data[off:]))
			off += 2
			if off+n > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*string) = string(data[off : off+n])
			off += n

		case 'Q':
			if off+qidSize > len(data) {
				return 0, unix.EPROTO
			}
			*slots[i].(*QID) = QID{
				Type:    data[off],
				Version: binary.LittleEndian.Uint32(data[off+1:]),
				Path:    binary.LittleEndian.Uint64(data[off+5:]),
			}
			off += qidSize

		default:
			panic(fmt.Sprintf("ninep: Unmarshal: unknown format code %q", c))
		}
	}

	return off, nil
}

// unmarshalStrings decodes n consecutive 's'-coded strings starting at
// offset start in data, used for the variable-length walk name list. It
// returns the strings and the total number of bytes consumed.
func unmarshalStrings(data []byte, start int, n int) ([]string, int, error) {
	out := make([]string, n)
	off := start

	for i := 0; i < n; i++ {
		var s string
		consumed, err := Unmarshal("s", data[off:], &s)
		if err != nil {
			return nil, 0, err
		}

		out[i] = s
		off += consumed
	}

	return out, off - start, nil
}
