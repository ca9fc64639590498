package hostfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/hype/virtio/ninep"
	"github.com/c35s/hype/virtio/ninep/hostfs"
)

func TestWalkToRegularFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	root, err := hostfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	child, qid, err := root.Walk("a")
	if err != nil {
		t.Fatal(err)
	}

	if qid.Type != 0 {
		t.Errorf("regular file QID.Type = %d, want 0", qid.Type)
	}

	if child.QID() != qid {
		t.Errorf("child.QID() = %+v, want %+v", child.QID(), qid)
	}
}

func TestWalkRejectsPathTraversal(t *testing.T) {
	root, err := hostfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := root.Walk("a/b"); err == nil {
		t.Error("Walk(\"a/b\") succeeded, want an error")
	}

	if _, _, err := root.Walk(".."); err == nil {
		t.Error("Walk(\"..\") succeeded, want an error")
	}
}

func TestOpenReadWrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	root, err := hostfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	a, _, err := root.Walk("a")
	if err != nil {
		t.Fatal(err)
	}

	var openErr error
	a.Open(uint32(os.O_RDWR), func(qid ninep.QID, iounit uint32, err error) {
		openErr = err
	})

	if openErr != nil {
		t.Fatal(openErr)
	}

	buf := make([]byte, 5)
	n, err := a.Read(0, buf)
	if err != nil {
		t.Fatal(err)
	}

	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want \"hello\"", buf[:n])
	}

	if _, err := a.Write(0, []byte("HELLO")); err != nil {
		t.Fatal(err)
	}

	a.Close()

	got, err := os.ReadFile(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}

	if string(got) != "HELLO world" {
		t.Errorf("file contents = %q, want \"HELLO world\"", got)
	}
}

func TestMkdirSymlinkReaddir(t *testing.T) {
	dir := t.TempDir()
	root, err := hostfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := root.Mkdir("sub", 0o755, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := root.Symlink("link", "sub", 0); err != nil {
		t.Fatal(err)
	}

	entries, err := root.Readdir(0, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}

	if !names["sub"] || !names["link"] {
		t.Errorf("Readdir entries = %v, want sub and link present", names)
	}

	target, err := func() (string, error) {
		child, _, err := root.Walk("link")
		if err != nil {
			return "", err
		}
		return child.Readlink()
	}()

	if err != nil {
		t.Fatal(err)
	}

	if target != "sub" {
		t.Errorf("Readlink = %q, want \"sub\"", target)
	}
}

func TestUnlinkAtAndRenameAt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	root, err := hostfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := root.RenameAt("a", root, "b"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "b")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	if err := root.UnlinkAt("b", 0); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "b")); !os.IsNotExist(err) {
		t.Errorf("file still exists after UnlinkAt: %v", err)
	}
}

func TestGetAttrSetAttr(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("123"), 0o644); err != nil {
		t.Fatal(err)
	}

	root, err := hostfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	a, _, err := root.Walk("a")
	if err != nil {
		t.Fatal(err)
	}

	attr, err := a.GetAttr()
	if err != nil {
		t.Fatal(err)
	}

	if attr.Size != 3 {
		t.Errorf("Size = %d, want 3", attr.Size)
	}

	const setattrSize = 1 << 3
	if err := a.SetAttr(setattrSize, attr); err != nil {
		t.Fatal(err)
	}

	attr.Size = 0
	if err := a.SetAttr(setattrSize, attr); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}

	if fi.Size() != 0 {
		t.Errorf("file size after truncate = %d, want 0", fi.Size())
	}
}
