package block_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/hype/virtio/block"
)

func makeImage(t *testing.T, sectors int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.bin")
	buf := make([]byte, sectors*block.SectorSize)

	for i := range buf {
		buf[i] = byte(i)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestParseMode(t *testing.T) {
	cases := map[string]block.Mode{
		"ro":       block.ModeRO,
		"snapshot": block.ModeSnapshot,
		"rw":       block.ModeRW,
		"":         block.ModeRW,
		"bogus":    block.ModeRW,
	}

	for in, want := range cases {
		if got := block.ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRWRoundTrip(t *testing.T) {
	path := makeImage(t, 4)

	f, err := block.Open(path, block.ModeRW)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if f.SectorCount() != 4 {
		t.Fatalf("SectorCount() = %d, want 4", f.SectorCount())
	}

	want := bytes.Repeat([]byte{0xAA}, block.SectorSize)
	if err := f.Write(1, 1, want); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, block.SectorSize)
	if err := f.Read(1, 1, got); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, want) {
		t.Error("read after write did not round-trip")
	}
}

func TestROForbidsWrite(t *testing.T) {
	path := makeImage(t, 2)

	f, err := block.Open(path, block.ModeRO)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, block.SectorSize)
	if err := f.Write(0, 1, buf); err == nil {
		t.Fatal("expected write to RO backend to fail")
	}
}

func TestSnapshotDoesNotMutateFile(t *testing.T) {
	path := makeImage(t, 4)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	f, err := block.Open(path, block.ModeSnapshot)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	pattern := bytes.Repeat([]byte{0xAA}, block.SectorSize)
	if err := f.Write(2, 1, pattern); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, block.SectorSize)
	if err := f.Read(2, 1, got); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, pattern) {
		t.Error("snapshot read did not reflect the override")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(before, after) {
		t.Error("snapshot write mutated the backing file")
	}
}

func TestSnapshotReadThroughUnwrittenSector(t *testing.T) {
	path := makeImage(t, 2)

	f, err := block.Open(path, block.ModeSnapshot)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	want := make([]byte, block.SectorSize)
	for i := range want {
		want[i] = byte(i)
	}

	got := make([]byte, block.SectorSize)
	if err := f.Read(0, 1, got); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, want) {
		t.Error("snapshot read-through does not match backing file contents")
	}
}

func TestSnapshotWritePastEndFails(t *testing.T) {
	path := makeImage(t, 2)

	f, err := block.Open(path, block.ModeSnapshot)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, block.SectorSize*2)
	if err := f.Write(1, 2, buf); err == nil {
		t.Fatal("expected write past sector count to fail")
	}
}
