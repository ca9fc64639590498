package ninep

import "time"

// OpenCallback receives the result of an Open call, synchronous or not.
type OpenCallback func(qid QID, iounit uint32, err error)

// File is a single open filesystem object as seen by the 9P server. The
// host filesystem adapter behind it is an external collaborator (spec §1);
// this module only defines the shape the dispatcher drives.
type File interface {
	QID() QID

	// Walk clones this file and attempts to descend to name within it,
	// returning the child and its QID.
	Walk(name string) (File, QID, error)

	// Clone returns a new File handle aliasing the same underlying object,
	// used when installing a FID for the zero-length walk case.
	Clone() File

	// Open prepares the file for I/O. A return value >0 means completion
	// is asynchronous and cb will be invoked later; otherwise cb has
	// already been called before Open returns.
	Open(flags uint32, cb OpenCallback) int

	Create(name string, flags uint32, mode uint32, gid uint32) (File, QID, error)
	Mkdir(name string, mode uint32, gid uint32) (QID, error)
	Symlink(name, target string, gid uint32) (QID, error)
	Mknod(name string, mode uint32, major, minor, gid uint32) (QID, error)
	Readlink() (string, error)

	GetAttr() (Attr, error)
	SetAttr(valid uint32, attr Attr) error

	Link(name string, target File) error
	RenameAt(oldName string, newDir File, newName string) error
	UnlinkAt(name string, flags uint32) error

	Readdir(offset uint64, count uint32) ([]DirEntry, error)

	Read(offset uint64, buf []byte) (int, error)
	Write(offset uint64, buf []byte) (int, error)

	Statfs() (StatFS, error)

	Close() error
}

// Attr mirrors the Linux 9P2000.L getattr/setattr payload.
type Attr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	NLink uint64
	RDev  uint64
	Size  uint64

	BlkSize uint64
	Blocks  uint64

	ATime time.Time
	MTime time.Time
	CTime time.Time
}

// DirEntry is one entry of a readdir reply.
type DirEntry struct {
	QID    QID
	Offset uint64
	Type   uint8
	Name   string
}

// StatFS mirrors the Linux 9P2000.L statfs payload.
type StatFS struct {
	Type    uint32
	BSize   uint32
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	FSID    uint64
	NameLen uint32
}
