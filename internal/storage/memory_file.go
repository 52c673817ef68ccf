package storage

import "github.com/joeandaverde/heapdb/internal/errs"

// MemoryFile is a page store held entirely in memory. Pages that were never
// written read back as zeros.
type MemoryFile struct {
	pageSize int
	pages    map[PageID][]byte

	// Reads and Writes count page transfers.
	Reads  int
	Writes int
}

func NewMemoryFile(pageSize int) *MemoryFile {
	return &MemoryFile{
		pageSize: pageSize,
		pages:    make(map[PageID][]byte),
	}
}

func (m *MemoryFile) PageSize() int {
	return m.pageSize
}

func (m *MemoryFile) TotalPages() int {
	return len(m.pages)
}

func (m *MemoryFile) ReadPage(id PageID, buf []byte) error {
	if len(buf) != m.pageSize {
		return errs.Protocol("read page", "buffer is %d bytes, page size is %d", len(buf), m.pageSize)
	}

	m.Reads++
	if data, ok := m.pages[id]; ok {
		copy(buf, data)
		return nil
	}

	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (m *MemoryFile) WritePage(id PageID, buf []byte) error {
	if len(buf) != m.pageSize {
		return errs.Protocol("write page", "buffer is %d bytes, page size is %d", len(buf), m.pageSize)
	}

	m.Writes++
	data, ok := m.pages[id]
	if !ok {
		data = make([]byte, m.pageSize)
		m.pages[id] = data
	}
	copy(data, buf)
	return nil
}
