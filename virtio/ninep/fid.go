package ninep

// fidTable maps guest-assigned FIDs to open filesystem objects. Deletion
// always closes the underlying File first.
type fidTable struct {
	files map[uint32]File
}

func newFidTable() *fidTable {
	return &fidTable{files: make(map[uint32]File)}
}

func (t *fidTable) get(fid uint32) (File, bool) {
	f, ok := t.files[fid]
	return f, ok
}

// install sets fid to f, closing and replacing whatever File previously
// occupied that slot.
func (t *fidTable) install(fid uint32, f File) {
	if old, ok := t.files[fid]; ok && old != f {
		old.Close()
	}

	t.files[fid] = f
}

// clunk removes fid, closing its File. It reports whether fid was present.
func (t *fidTable) clunk(fid uint32) bool {
	f, ok := t.files[fid]
	if !ok {
		return false
	}

	f.Close()
	delete(t.files, fid)
	return true
}

// clunkAll closes and removes every FID, used on device reset.
func (t *fidTable) clunkAll() {
	for fid, f := range t.files {
		f.Close()
		delete(t.files, fid)
	}
}
