// Package hostfs is the host filesystem adapter backing the 9P server: it
// maps ninep.File onto a real directory tree using golang.org/x/sys/unix,
// the concrete realization of the "filesystem adapter handle (external)"
// collaborator spec §3 leaves unspecified.
package hostfs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/c35s/hype/virtio/ninep"
)

// qid type bits, per the 9P QID.type field
const (
	qtDir    = 0x80
	qtSymlnk = 0x02
)

type file struct {
	root string // absolute host directory this adapter serves
	rel  string // path relative to root; "" names the root itself
	f    *os.File
}

var _ ninep.File = (*file)(nil)

// New returns the root File of the directory tree at path.
func New(path string) (ninep.File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return nil, err
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, unix.ENOTDIR
	}

	return &file{root: abs}, nil
}

func (fl *file) path() string {
	if fl.rel == "" {
		return fl.root
	}

	return filepath.Join(fl.root, fl.rel)
}

func (fl *file) child(name string) string {
	if fl.rel == "" {
		return name
	}

	return filepath.Join(fl.rel, name)
}

func statQID(path string) (ninep.QID, unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return ninep.QID{}, st, err
	}

	var typ uint8
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		typ = qtDir
	case unix.S_IFLNK:
		typ = qtSymlnk
	}

	return ninep.QID{Type: typ, Version: uint32(st.Mtim.Sec), Path: st.Ino}, st, nil
}

func (fl *file) QID() ninep.QID {
	qid, _, err := statQID(fl.path())
	if err != nil {
		return ninep.QID{}
	}

	return qid
}

func (fl *file) Clone() ninep.File {
	return &file{root: fl.root, rel: fl.rel}
}

func (fl *file) Walk(name string) (ninep.File, ninep.QID, error) {
	if strings.Contains(name, "/") || name == ".." {
		return nil, ninep.QID{}, unix.EINVAL
	}

	child := &file{root: fl.root, rel: fl.child(name)}
	qid, _, err := statQID(child.path())
	if err != nil {
		return nil, ninep.QID{}, err
	}

	return child, qid, nil
}

func (fl *file) Open(flags uint32, cb ninep.OpenCallback) int {
	f, err := os.OpenFile(fl.path(), int(flags), 0)
	if err != nil {
		cb(ninep.QID{}, 0, err)
		return 0
	}

	fl.f = f
	cb(fl.QID(), 0, nil)
	return 0
}

func (fl *file) Create(name string, flags uint32, mode uint32, gid uint32) (ninep.File, ninep.QID, error) {
	child := &file{root: fl.root, rel: fl.child(name)}

	f, err := os.OpenFile(child.path(), os.O_CREATE|int(flags), os.FileMode(mode&0o777))
	if err != nil {
		return nil, ninep.QID{}, err
	}

	unix.Chown(child.path(), -1, int(gid))
	child.f = f

	qid, _, err := statQID(child.path())
	if err != nil {
		return nil, ninep.QID{}, err
	}

	return child, qid, nil
}

func (fl *file) Mkdir(name string, mode uint32, gid uint32) (ninep.QID, error) {
	p := filepath.Join(fl.path(), name)
	if err := unix.Mkdir(p, mode&0o777); err != nil {
		return ninep.QID{}, err
	}

	unix.Chown(p, -1, int(gid))

	qid, _, err := statQID(p)
	return qid, err
}

func (fl *file) Symlink(name, target string, gid uint32) (ninep.QID, error) {
	p := filepath.Join(fl.path(), name)
	if err := unix.Symlink(target, p); err != nil {
		return ninep.QID{}, err
	}

	unix.Lchown(p, -1, int(gid))

	qid, _, err := statQID(p)
	return qid, err
}

func (fl *file) Mknod(name string, mode uint32, major, minor, gid uint32) (ninep.QID, error) {
	p := filepath.Join(fl.path(), name)
	dev := unix.Mkdev(major, minor)

	if err := unix.Mknod(p, mode, int(dev)); err != nil {
		return ninep.QID{}, err
	}

	unix.Chown(p, -1, int(gid))

	qid, _, err := statQID(p)
	return qid, err
}

func (fl *file) Readlink() (string, error) {
	return os.Readlink(fl.path())
}

func (fl *file) GetAttr() (ninep.Attr, error) {
	_, st, err := statQID(fl.path())
	if err != nil {
		return ninep.Attr{}, err
	}

	return ninep.Attr{
		Mode:    st.Mode,
		UID:     st.Uid,
		GID:     st.Gid,
		NLink:   uint64(st.Nlink),
		RDev:    st.Rdev,
		Size:    uint64(st.Size),
		BlkSize: uint64(st.Blksize),
		Blocks:  uint64(st.Blocks),
		ATime:   time.Unix(st.Atim.Sec, st.Atim.Nsec),
		MTime:   time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		CTime:   time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
	}, nil
}

// setattr valid-mask bits, per the 9P2000.L Tsetattr wire format
const (
	setattrMode = 1 << 0
	setattrUID  = 1 << 1
	setattrGID  = 1 << 2
	setattrSize = 1 << 3
)

func (fl *file) SetAttr(valid uint32, attr ninep.Attr) error {
	p := fl.path()

	if valid&setattrMode != 0 {
		if err := unix.Chmod(p, attr.Mode&0o7777); err != nil {
			return err
		}
	}

	if valid&(setattrUID|setattrGID) != 0 {
		uid, gid := -1, -1
		if valid&setattrUID != 0 {
			uid = int(attr.UID)
		}
		if valid&setattrGID != 0 {
			gid = int(attr.GID)
		}
		if err := unix.Chown(p, uid, gid); err != nil {
			return err
		}
	}

	if valid&setattrSize != 0 {
		if err := os.Truncate(p, int64(attr.Size)); err != nil {
			return err
		}
	}

	return nil
}

func (fl *file) Link(name string, target ninep.File) error {
	tf, ok := target.(*file)
	if !ok {
		return unix.EXDEV
	}

	return unix.Link(tf.path(), filepath.Join(fl.path(), name))
}

func (fl *file) RenameAt(oldName string, newDir ninep.File, newName string) error {
	nd, ok := newDir.(*file)
	if !ok {
		return unix.EXDEV
	}

	return unix.Rename(filepath.Join(fl.path(), oldName), filepath.Join(nd.path(), newName))
}

func (fl *file) UnlinkAt(name string, flags uint32) error {
	p := filepath.Join(fl.path(), name)

	const removeDirFlag = 0x200 // AT_REMOVEDIR

	if flags&removeDirFlag != 0 {
		return unix.Rmdir(p)
	}

	return unix.Unlink(p)
}

func (fl *file) Readdir(offset uint64, count uint32) ([]ninep.DirEntry, error) {
	entries, err := os.ReadDir(fl.path())
	if err != nil {
		return nil, err
	}

	var out []ninep.DirEntry
	for i, e := range entries {
		if uint64(i) < offset {
			continue
		}

		qid, _, err := statQID(filepath.Join(fl.path(), e.Name()))
		if err != nil {
			continue
		}

		typ := uint8(0)
		if e.IsDir() {
			typ = qtDir >> 5 // DT_DIR, shifted from the QID type bit
		}

		out = append(out, ninep.DirEntry{
			QID:    qid,
			Offset: uint64(i) + 1,
			Type:   typ,
			Name:   e.Name(),
		})
	}

	return out, nil
}

func (fl *file) Read(offset uint64, buf []byte) (int, error) {
	if fl.f == nil {
		return 0, unix.EBADF
	}

	n, err := fl.f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return 0, err
	}

	return n, nil
}

func (fl *file) Write(offset uint64, buf []byte) (int, error) {
	if fl.f == nil {
		return 0, unix.EBADF
	}

	return fl.f.WriteAt(buf, int64(offset))
}

func (fl *file) Statfs() (ninep.StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fl.path(), &st); err != nil {
		return ninep.StatFS{}, err
	}

	return ninep.StatFS{
		Type:    uint32(st.Type),
		BSize:   uint32(st.Bsize),
		Blocks:  st.Blocks,
		BFree:   st.Bfree,
		BAvail:  st.Bavail,
		Files:   st.Files,
		FFree:   st.Ffree,
		NameLen: uint32(st.Namelen),
	}, nil
}

func (fl *file) Close() error {
	if fl.f == nil {
		return nil
	}

	err := fl.f.Close()
	fl.f = nil
	return err
}
