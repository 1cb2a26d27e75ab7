package filestore

import "github.com/pkg/errors"

// ErrOverlap is returned by Insert when the new file's address range
// overlaps an existing file.
var ErrOverlap = errors.New("filestore: address range overlaps an existing file")

// FileMap is an address-ordered, non-overlapping collection of files
// (spec.md §4.3).
type FileMap struct {
	files []*File
}

// NewFileMap returns an empty FileMap.
func NewFileMap() *FileMap {
	return &FileMap{}
}

// Insert adds f to the map in address order, rejecting overlap with any
// existing file.
func (m *FileMap) Insert(f *File) error {
	idx := m.insertionIndex(f.Address)
	if idx > 0 && m.files[idx-1].End() > f.Address {
		return ErrOverlap
	}
	if idx < len(m.files) && f.End() > m.files[idx].Address {
		return ErrOverlap
	}
	m.files = append(m.files, nil)
	copy(m.files[idx+1:], m.files[idx:])
	m.files[idx] = f
	return nil
}

// insertionIndex returns the index at which a file starting at addr would
// be inserted to preserve address order.
func (m *FileMap) insertionIndex(addr uint32) int {
	lo, hi := 0, len(m.files)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.files[mid].Address < addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// AutoInsertPortData assigns f the next free address starting at 0x0000
// (the port-data area) and inserts it.
func (m *FileMap) AutoInsertPortData(f *File) error {
	return m.autoInsert(f, 0)
}

// AutoInsertDefinition assigns f the next free address at or above
// DefinitionBase and inserts it.
func (m *FileMap) AutoInsertDefinition(f *File) error {
	return m.autoInsert(f, DefinitionBase)
}

// autoInsert finds the first gap at or after floor big enough to hold
// f.Size bytes, assigns f.Address accordingly, and inserts it.
func (m *FileMap) autoInsert(f *File, floor uint32) error {
	addr := floor
	for _, existing := range m.files {
		if existing.End() <= addr {
			continue
		}
		if existing.Address >= addr+f.Size {
			break
		}
		addr = existing.End()
	}
	f.Address = addr
	return m.Insert(f)
}

// Remove deletes f from the map. f must be a value previously returned by
// Insert/AutoInsertPortData/AutoInsertDefinition/FindByAddress/FindByName
// on this map; removing an unknown file is a no-op.
func (m *FileMap) Remove(f *File) {
	for i, existing := range m.files {
		if existing == f {
			m.files = append(m.files[:i], m.files[i+1:]...)
			return
		}
	}
}

// FindByAddress returns the file whose [Address, Address+Size) range
// contains addr, or nil if none does.
func (m *FileMap) FindByAddress(addr uint32) *File {
	lo, hi := 0, len(m.files)
	for lo < hi {
		mid := (lo + hi) / 2
		f := m.files[mid]
		switch {
		case addr < f.Address:
			hi = mid
		case addr >= f.End():
			lo = mid + 1
		default:
			return f
		}
	}
	return nil
}

// FindByName performs a linear scan for a file with the given name,
// returning nil if not found (spec.md §4.3).
func (m *FileMap) FindByName(name string) *File {
	for _, f := range m.files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IterInAddressOrder calls visit for every file in ascending address order,
// stopping early if visit returns false.
func (m *FileMap) IterInAddressOrder(visit func(*File) bool) {
	for _, f := range m.files {
		if !visit(f) {
			return
		}
	}
}

// Len returns the number of files currently held.
func (m *FileMap) Len() int {
	return len(m.files)
}

// ClearWeak empties the map without otherwise touching the File values,
// allowing ownership to transfer to a detach caller (spec.md §9).
func (m *FileMap) ClearWeak() {
	m.files = nil
}
