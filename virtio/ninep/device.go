package ninep

import (
	"encoding/binary"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/c35s/hype/virtio"
	"github.com/c35s/hype/virtio/mem"
	"github.com/c35s/hype/virtio/virtq"
)

// T-message ids this server understands. Reply ids are always id+1, except
// errors which always reply Rlerror regardless of the request id.
const (
	tStatfs    = 8
	tLopen     = 12
	tLcreate   = 14
	tSymlink   = 16
	tMknod     = 18
	tReadlink  = 22
	tGetattr   = 24
	tSetattr   = 26
	tXattrwalk = 30
	tReaddir   = 40
	tFsync     = 50
	tLock      = 52
	tGetlock   = 54
	tLink      = 70
	tMkdir     = 72
	tRenameat  = 74
	tUnlinkat  = 76
	tVersion   = 100
	tAttach    = 104
	tFlush     = 108
	tWalk      = 110
	tRead      = 116
	tWrite     = 118
	tClunk     = 120
)

const rlerror = 7

const msgHeaderSize = 7 // size:u32 id:u8 tag:u16

const protoVersion = "9P2000.L"

// pendingLopen captures an in-flight asynchronous lopen so its completion
// can reply and resume draining the queue it arrived on.
type pendingLopen struct {
	m    *mem.Accessor
	q    *virtq.Queue
	head uint16
	tag  uint16
}

// Device is a 9P2000.L server riding the virtq transport.
type Device struct {
	root     File
	mountTag string

	msize uint32
	fids  *fidTable

	pending *pendingLopen
}

// NewDevice returns a 9P device serving root under mountTag.
func NewDevice(root File, mountTag string) *Device {
	return &Device{
		root:     root,
		mountTag: mountTag,
		fids:     newFidTable(),
	}
}

func (d *Device) DeviceID() virtio.DeviceID {
	return virtio.NinePDeviceID
}

// Features declares bit 0: a mount tag is present in config space.
func (d *Device) Features() uint64 {
	return 1
}

// ConfigSpace returns tag_len:u16 followed by the mount tag bytes.
func (d *Device) ConfigSpace() []byte {
	buf := make([]byte, 2+len(d.mountTag))
	binary.LittleEndian.PutUint16(buf, uint16(len(d.mountTag)))
	copy(buf[2:], d.mountTag)
	return buf
}

// ConfigWrite is a no-op; the mount tag is not guest-writable.
func (d *Device) ConfigWrite(off int, p []byte) {}

func (d *Device) Reset() {
	d.fids.clunkAll()
	d.pending = nil
	d.msize = 0
}

func (d *Device) RecvRequest(m *mem.Accessor, q *virtq.Queue, head uint16, readSize, writeSize int) int {
	if d.pending != nil {
		return -1
	}

	req := make([]byte, readSize)
	if err := q.Copy(m, req, head, 0, readSize, false); err != nil {
		slog.Error("9p: failed to read request", "err", err)
		q.Consume(m, head, 0)
		return 0
	}

	if len(req) < msgHeaderSize {
		q.Consume(m, head, 0)
		return 0
	}

	msgID := req[4]
	tag := binary.LittleEndian.Uint16(req[5:7])
	payload := req[msgHeaderSize:]

	d.dispatch(m, q, head, msgID, tag, payload, writeSize)
	return 0
}

func (d *Device) dispatch(m *mem.Accessor, q *virtq.Queue, head uint16, msgID uint8, tag uint16, p []byte, writeSize int) {
	switch msgID {
	case tVersion:
		d.handleVersion(m, q, head, tag, p, writeSize)
	case tAttach:
		d.handleAttach(m, q, head, tag, p, writeSize)
	case tWalk:
		d.handleWalk(m, q, head, tag, p, writeSize)
	case tClunk:
		d.handleClunk(m, q, head, tag, p, writeSize)
	case tLopen:
		d.handleLopen(m, q, head, tag, p, writeSize)
	case tLcreate:
		d.handleLcreate(m, q, head, tag, p, writeSize)
	case tSymlink:
		d.handleSymlink(m, q, head, tag, p, writeSize)
	case tMknod:
		d.handleMknod(m, q, head, tag, p, writeSize)
	case tMkdir:
		d.handleMkdir(m, q, head, tag, p, writeSize)
	case tReadlink:
		d.handleReadlink(m, q, head, tag, p, writeSize)
	case tGetattr:
		d.handleGetattr(m, q, head, tag, p, writeSize)
	case tSetattr:
		d.handleSetattr(m, q, head, tag, p, writeSize)
	case tXattrwalk:
		d.replyError(m, q, head, tag, unix.ENOTSUP, writeSize)
	case tReaddir:
		d.handleReaddir(m, q, head, tag, p, writeSize)
	case tFsync:
		d.reply(m, q, head, tag, tFsync+1, nil, writeSize)
	case tLock:
		d.handleLock(m, q, head, tag, p, writeSize)
	case tGetlock:
		d.handleGetlock(m, q, head, tag, p, writeSize)
	case tLink:
		d.handleLink(m, q, head, tag, p, writeSize)
	case tRenameat:
		d.handleRenameat(m, q, head, tag, p, writeSize)
	case tUnlinkat:
		d.handleUnlinkat(m, q, head, tag, p, writeSize)
	case tStatfs:
		d.handleStatfs(m, q, head, tag, p, writeSize)
	case tFlush:
		d.reply(m, q, head, tag, tFlush+1, nil, writeSize)
	case tRead:
		d.handleRead(m, q, head, tag, p, writeSize)
	case tWrite:
		d.handleWrite(m, q, head, tag, p, writeSize)
	default:
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
	}
}

func (d *Device) reply(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, replyID uint8, payload []byte, writeSize int) {
	total := msgHeaderSize + len(payload)
	if total > writeSize {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:], uint32(total))
	buf[4] = replyID
	binary.LittleEndian.PutUint16(buf[5:], tag)
	copy(buf[msgHeaderSize:], payload)

	if err := q.Copy(m, buf, head, 0, total, true); err != nil {
		slog.Error("9p: failed to scatter reply", "err", err)
		q.Consume(m, head, 0)
		return
	}

	q.Consume(m, head, total)
}

// replyError sends Rlerror carrying the negated POSIX errno, per spec §4.7.
func (d *Device) replyError(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, errno unix.Errno, writeSize int) {
	payload := Marshal("w", uint32(-int32(errno)))
	total := msgHeaderSize + len(payload)

	if total > writeSize {
		q.Consume(m, head, 0)
		return
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:], uint32(total))
	buf[4] = rlerror
	binary.LittleEndian.PutUint16(buf[5:], tag)
	copy(buf[msgHeaderSize:], payload)

	if err := q.Copy(m, buf, head, 0, total, true); err != nil {
		slog.Error("9p: failed to scatter error reply", "err", err)
		q.Consume(m, head, 0)
		return
	}

	q.Consume(m, head, total)
}

func errnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}

	if errno, ok := err.(unix.Errno); ok {
		return errno
	}

	return unix.EIO
}

func (d *Device) handleVersion(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var msize uint32
	var version string

	if _, err := Unmarshal("ws", p, &msize, &version); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	d.msize = msize
	d.reply(m, q, head, tag, tVersion+1, Marshal("ws", d.msize, protoVersion), writeSize)
}

func (d *Device) handleAttach(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, afid uint32
	var uname, aname string
	var nUname uint32

	if _, err := Unmarshal("wwssw", p, &fid, &afid, &uname, &aname, &nUname); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	d.fids.install(fid, d.root.Clone())
	d.reply(m, q, head, tag, tAttach+1, Marshal("Q", d.root.QID()), writeSize)
}

func (d *Device) handleWalk(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, newfid uint32
	var nwname uint16

	n, err := Unmarshal("wwh", p, &fid, &newfid, &nwname)
	if err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	names, _, err := unmarshalStrings(p, n, int(nwname))
	if err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	start, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	cur := start.Clone()
	qids := make([]QID, 0, len(names))

	for _, name := range names {
		next, qid, err := cur.Walk(name)
		if err != nil {
			break
		}

		cur.Close()
		cur = next
		qids = append(qids, qid)
	}

	if len(names) == 0 {
		d.fids.install(newfid, cur)
	} else if len(qids) == len(names) {
		d.fids.install(newfid, cur)
	} else {
		cur.Close()
	}

	values := make([]any, 1+len(qids))
	format := make([]byte, 1+len(qids))
	format[0] = 'h'
	values[0] = uint16(len(qids))

	for i, qid := range qids {
		format[i+1] = 'Q'
		values[i+1] = qid
	}

	d.reply(m, q, head, tag, tWalk+1, Marshal(string(format), values...), writeSize)
}

func (d *Device) handleClunk(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	if _, err := Unmarshal("w", p, &fid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if !d.fids.clunk(fid) {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	d.reply(m, q, head, tag, tClunk+1, nil, writeSize)
}

func (d *Device) handleLopen(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, flags uint32
	if _, err := Unmarshal("ww", p, &fid, &flags); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	ret := f.Open(flags, func(qid QID, iounit uint32, err error) {
		d.completeLopen(m, q, head, tag, writeSize, qid, iounit, err)
	})

	if ret > 0 {
		d.pending = &pendingLopen{m: m, q: q, head: head, tag: tag}
	}
}

func (d *Device) completeLopen(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, writeSize int, qid QID, iounit uint32, err error) {
	resuming := d.pending != nil
	d.pending = nil

	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
	} else {
		d.reply(m, q, head, tag, tLopen+1, Marshal("Qw", qid, iounit), writeSize)
	}

	if resuming {
		q.Drain(m, func(h uint16, rs, ws int) int {
			return d.RecvRequest(m, q, h, rs, ws)
		})
	}
}

func (d *Device) handleLcreate(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, flags, mode, gid uint32
	var name string

	if _, err := Unmarshal("wswww", p, &fid, &name, &flags, &mode, &gid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	child, qid, err := f.Create(name, flags, mode, gid)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.fids.install(fid, child)
	d.reply(m, q, head, tag, tLcreate+1, Marshal("Qw", qid, uint32(d.iounit())), writeSize)
}

func (d *Device) handleSymlink(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, gid uint32
	var name, target string

	if _, err := Unmarshal("wssw", p, &fid, &name, &target, &gid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	qid, err := f.Symlink(name, target, gid)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tSymlink+1, Marshal("Q", qid), writeSize)
}

func (d *Device) handleMknod(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, mode, major, minor, gid uint32
	var name string

	if _, err := Unmarshal("wswwww", p, &fid, &name, &mode, &major, &minor, &gid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	qid, err := f.Mknod(name, mode, major, minor, gid)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tMknod+1, Marshal("Q", qid), writeSize)
}

func (d *Device) handleMkdir(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, mode, gid uint32
	var name string

	if _, err := Unmarshal("wsww", p, &fid, &name, &mode, &gid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	qid, err := f.Mkdir(name, mode, gid)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tMkdir+1, Marshal("Q", qid), writeSize)
}

func (d *Device) handleReadlink(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	if _, err := Unmarshal("w", p, &fid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	target, err := f.Readlink()
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tReadlink+1, Marshal("s", target), writeSize)
}

func (d *Device) handleGetattr(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	var mask uint64

	if _, err := Unmarshal("wd", p, &fid, &mask); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	a, err := f.GetAttr()
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	payload := Marshal("dQwww"+repeat('d', 15),
		mask, f.QID(), a.Mode, a.UID, a.GID,
		a.NLink, a.RDev, a.Size, a.BlkSize, a.Blocks,
		uint64(a.ATime.Unix()), uint64(a.ATime.Nanosecond()),
		uint64(a.MTime.Unix()), uint64(a.MTime.Nanosecond()),
		uint64(a.CTime.Unix()), uint64(a.CTime.Nanosecond()),
		uint64(0), uint64(0), uint64(0), uint64(0), // btime, gen, data_version reserved
	)

	d.reply(m, q, head, tag, tGetattr+1, payload, writeSize)
}

func repeat(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func (d *Device) handleSetattr(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid, valid, mode, uid, gid uint32
	var size, atimeSec, atimeNsec, mtimeSec, mtimeNsec uint64

	if _, err := Unmarshal("wwwwwddddd", p, &fid, &valid, &mode, &uid, &gid, &size, &atimeSec, &atimeNsec, &mtimeSec, &mtimeNsec); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	attr := Attr{
		Mode: mode,
		UID:  uid,
		GID:  gid,
		Size: size,
	}

	if err := f.SetAttr(valid, attr); err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tSetattr+1, nil, writeSize)
}

func (d *Device) handleReaddir(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	var offset uint64
	var count uint32

	if _, err := Unmarshal("wdw", p, &fid, &offset, &count); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	entries, err := f.Readdir(offset, count)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	var data []byte
	for _, e := range entries {
		enc := Marshal("Qdbs", e.QID, e.Offset, e.Type, e.Name)
		if uint32(len(data)+len(enc)) > count {
			break
		}
		data = append(data, enc...)
	}

	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload, uint32(len(data)))
	copy(payload[4:], data)

	d.reply(m, q, head, tag, tReaddir+1, payload, writeSize)
}

func (d *Device) handleLock(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	// No real byte-range lock manager; every lock request succeeds
	// immediately (status 0 = LOCK_SUCCESS).
	d.reply(m, q, head, tag, tLock+1, Marshal("b", uint8(0)), writeSize)
}

func (d *Device) handleGetlock(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var typ uint8
	var start, length uint64
	var procID uint32
	var clientID string

	if _, err := Unmarshal("bddws", p, &typ, &start, &length, &procID, &clientID); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	// No conflicting lock is ever held; report F_UNLCK (2).
	d.reply(m, q, head, tag, tGetlock+1, Marshal("bddws", uint8(2), start, length, procID, clientID), writeSize)
}

func (d *Device) handleLink(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var dfid, fid uint32
	var name string

	if _, err := Unmarshal("wws", p, &dfid, &fid, &name); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	dir, ok := d.fids.get(dfid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	target, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if err := dir.Link(name, target); err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tLink+1, nil, writeSize)
}

func (d *Device) handleRenameat(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var oldDirFid, newDirFid uint32
	var oldName, newName string

	if _, err := Unmarshal("wsws", p, &oldDirFid, &oldName, &newDirFid, &newName); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	oldDir, ok := d.fids.get(oldDirFid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	newDir, ok := d.fids.get(newDirFid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if err := oldDir.RenameAt(oldName, newDir, newName); err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tRenameat+1, nil, writeSize)
}

func (d *Device) handleUnlinkat(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var dfid, flags uint32
	var name string

	if _, err := Unmarshal("wsw", p, &dfid, &name, &flags); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	dir, ok := d.fids.get(dfid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if err := dir.UnlinkAt(name, flags); err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tUnlinkat+1, nil, writeSize)
}

func (d *Device) handleStatfs(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	if _, err := Unmarshal("w", p, &fid); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	s, err := f.Statfs()
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	payload := Marshal("wwddddddw", s.Type, s.BSize, s.Blocks, s.BFree, s.BAvail, s.Files, s.FFree, s.FSID, s.NameLen)
	d.reply(m, q, head, tag, tStatfs+1, payload, writeSize)
}

func (d *Device) handleRead(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	var offset uint64
	var count uint32

	if _, err := Unmarshal("wdw", p, &fid, &offset, &count); err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if max := uint32(writeSize - msgHeaderSize - 4); count > max {
		count = max
	}

	buf := make([]byte, count)
	n, err := f.Read(offset, buf)
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	payload := make([]byte, 4+n)
	binary.LittleEndian.PutUint32(payload, uint32(n))
	copy(payload[4:], buf[:n])

	d.reply(m, q, head, tag, tRead+1, payload, writeSize)
}

func (d *Device) handleWrite(m *mem.Accessor, q *virtq.Queue, head uint16, tag uint16, p []byte, writeSize int) {
	var fid uint32
	var offset uint64
	var count uint32

	n, err := Unmarshal("wdw", p, &fid, &offset, &count)
	if err != nil {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	if n+int(count) > len(p) {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	f, ok := d.fids.get(fid)
	if !ok {
		d.replyError(m, q, head, tag, unix.EPROTO, writeSize)
		return
	}

	written, err := f.Write(offset, p[n:n+int(count)])
	if err != nil {
		d.replyError(m, q, head, tag, errnoOf(err), writeSize)
		return
	}

	d.reply(m, q, head, tag, tWrite+1, Marshal("w", uint32(written)), writeSize)
}

// iounit is the maximum single read/write chunk this server advertises,
// matching the Rlopen contract that 0 means "no recommendation" if msize
// hasn't been negotiated yet.
func (d *Device) iounit() uint32 {
	if d.msize < msgHeaderSize+4 {
		return 0
	}

	return d.msize - msgHeaderSize - 4
}
