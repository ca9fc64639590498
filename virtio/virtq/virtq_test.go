package virtq_test

import (
	"encoding/binary"
	"testing"

	"github.com/c35s/hype/virtio/mem"
	"github.com/c35s/hype/virtio/virtq"
)

// fakeMemory is a flat byte slice standing in for guest physical RAM.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (m *fakeMemory) LoadAt(addr uint64, p []byte) error {
	copy(p, m.buf[addr:])
	return nil
}

func (m *fakeMemory) StoreAt(addr uint64, p []byte) error {
	copy(m.buf[addr:], p)
	return nil
}

func (m *fakeMemory) putDesc(descAddr uint64, idx uint16, addr uint64, length uint32, flags, next uint16) {
	off := descAddr + uint64(idx)*16
	binary.LittleEndian.PutUint64(m.buf[off:], addr)
	binary.LittleEndian.PutUint32(m.buf[off+8:], length)
	binary.LittleEndian.PutUint16(m.buf[off+12:], flags)
	binary.LittleEndian.PutUint16(m.buf[off+14:], next)
}

const (
	descAddr  = 0x1000
	availAddr = 0x2000
	usedAddr  = 0x3000
	dataAddr  = 0x4000
)

func newQueue(num uint16) *virtq.Queue {
	q := &virtq.Queue{}
	q.Reset()
	q.Num = num
	q.DescAddr = descAddr
	q.AvailAddr = availAddr
	q.UsedAddr = usedAddr
	return q
}

func TestRWSize(t *testing.T) {
	t.Run("read only chain", func(t *testing.T) {
		m := newFakeMemory(0x10000)
		m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFNext, 1)
		m.putDesc(descAddr, 1, dataAddr, 8, 0, 0)

		q := newQueue(8)
		rs, ws, err := q.RWSize(mem.New(m), 0)

		if err != nil {
			t.Fatal(err)
		}

		if rs != 24 || ws != 0 {
			t.Errorf("rs=%d ws=%d, want 24, 0", rs, ws)
		}
	})

	t.Run("read then write", func(t *testing.T) {
		m := newFakeMemory(0x10000)
		m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFNext, 1)
		m.putDesc(descAddr, 1, dataAddr, 512, virtq.DescFWrite|virtq.DescFNext, 2)
		m.putDesc(descAddr, 2, dataAddr, 1, virtq.DescFWrite, 0)

		q := newQueue(8)
		rs, ws, err := q.RWSize(mem.New(m), 0)

		if err != nil {
			t.Fatal(err)
		}

		if rs != 16 || ws != 513 {
			t.Errorf("rs=%d ws=%d, want 16, 513", rs, ws)
		}
	})

	t.Run("write then read is a protocol error", func(t *testing.T) {
		m := newFakeMemory(0x10000)
		m.putDesc(descAddr, 0, dataAddr, 4, virtq.DescFWrite|virtq.DescFNext, 1)
		m.putDesc(descAddr, 1, dataAddr, 4, 0, 0)

		q := newQueue(8)
		if _, _, err := q.RWSize(mem.New(m), 0); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("indirect descriptor is a protocol error", func(t *testing.T) {
		m := newFakeMemory(0x10000)
		m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFIndirect, 0)

		q := newQueue(8)
		if _, _, err := q.RWSize(mem.New(m), 0); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("single write-only descriptor terminates cleanly", func(t *testing.T) {
		m := newFakeMemory(0x10000)
		m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFWrite, 0)

		q := newQueue(8)
		rs, ws, err := q.RWSize(mem.New(m), 0)
		if err != nil {
			t.Fatal(err)
		}
		if rs != 0 || ws != 16 {
			t.Errorf("rs=%d ws=%d, want 0, 16", rs, ws)
		}
	})
}

func TestCopy(t *testing.T) {
	m := newFakeMemory(0x10000)
	m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFNext, 1)
	m.putDesc(descAddr, 1, dataAddr+16, 512, virtq.DescFWrite|virtq.DescFNext, 2)
	m.putDesc(descAddr, 2, dataAddr+16+512, 1, virtq.DescFWrite, 0)

	a := mem.New(m)
	q := newQueue(8)

	header := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	copy(m.buf[dataAddr:], header)

	got := make([]byte, 16)
	if err := q.Copy(a, got, 0, 0, 16, false); err != nil {
		t.Fatal(err)
	}

	for i := range header {
		if got[i] != header[i] {
			t.Errorf("byte %d: got %d want %d", i, got[i], header[i])
		}
	}

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := q.Copy(a, payload, 0, 0, 512, true); err != nil {
		t.Fatal(err)
	}

	for i := range payload {
		if m.buf[dataAddr+16+uint64(i)] != payload[i] {
			t.Fatalf("scatter mismatch at %d", i)
		}
	}

	status := []byte{0}
	if err := q.Copy(a, status, 0, 0, 1, true); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeAndDrain(t *testing.T) {
	m := newFakeMemory(0x10000)
	a := mem.New(m)
	q := newQueue(8)

	var notified int
	q.SetNotify(func() { notified++ })

	m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFWrite, 0)

	// avail ring: flags(2) idx(2) ring[8](2 each)
	binary.LittleEndian.PutUint16(m.buf[availAddr+4:], 0) // ring[0] = head 0
	binary.LittleEndian.PutUint16(m.buf[availAddr+2:], 1) // idx = 1

	var drained []uint16
	q.Drain(a, func(head uint16, readSize, writeSize int) int {
		drained = append(drained, head)
		q.Consume(a, head, writeSize)
		return 0
	})

	if len(drained) != 1 || drained[0] != 0 {
		t.Fatalf("drained = %v, want [0]", drained)
	}

	if q.LastAvailIdx != 1 {
		t.Errorf("LastAvailIdx = %d, want 1", q.LastAvailIdx)
	}

	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}

	usedIdx := binary.LittleEndian.Uint16(m.buf[usedAddr+2:])
	if usedIdx != 1 {
		t.Errorf("used idx = %d, want 1", usedIdx)
	}

	usedID := binary.LittleEndian.Uint32(m.buf[usedAddr+4:])
	usedLen := binary.LittleEndian.Uint32(m.buf[usedAddr+8:])

	if usedID != 0 || usedLen != 16 {
		t.Errorf("used entry = {%d, %d}, want {0, 16}", usedID, usedLen)
	}
}

func TestDrainStopsOnNegativeReturn(t *testing.T) {
	m := newFakeMemory(0x10000)
	a := mem.New(m)
	q := newQueue(8)

	m.putDesc(descAddr, 0, dataAddr, 16, virtq.DescFWrite, 0)
	m.putDesc(descAddr, 1, dataAddr, 16, virtq.DescFWrite, 0)

	binary.LittleEndian.PutUint16(m.buf[availAddr+4:], 0)
	binary.LittleEndian.PutUint16(m.buf[availAddr+6:], 1)
	binary.LittleEndian.PutUint16(m.buf[availAddr+2:], 2)

	calls := 0
	q.Drain(a, func(head uint16, readSize, writeSize int) int {
		calls++
		return -1
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	if q.LastAvailIdx != 0 {
		t.Errorf("LastAvailIdx = %d, want 0 (stalled)", q.LastAvailIdx)
	}
}

func TestManualRecvSkipsDrain(t *testing.T) {
	m := newFakeMemory(0x10000)
	a := mem.New(m)
	q := newQueue(8)
	q.ManualRecv = true

	binary.LittleEndian.PutUint16(m.buf[availAddr+2:], 5)

	called := false
	q.Drain(a, func(head uint16, readSize, writeSize int) int {
		called = true
		return 0
	})

	if called {
		t.Error("Drain invoked recv despite ManualRecv")
	}
}

func TestQueueReset(t *testing.T) {
	q := newQueue(4)
	q.Ready = true
	q.LastAvailIdx = 7

	q.Reset()

	if q.Ready {
		t.Error("Ready not cleared")
	}

	if q.Num != virtq.MaxQueueNum {
		t.Errorf("Num = %d, want %d", q.Num, virtq.MaxQueueNum)
	}

	if q.LastAvailIdx != 0 || q.DescAddr != 0 || q.AvailAddr != 0 || q.UsedAddr != 0 {
		t.Error("Reset left stale addressing state")
	}
}
