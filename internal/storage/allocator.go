package storage

import (
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/errs"
)

// Options describes the geometry of the backing store.
type Options struct {
	// Dir is the storage directory. Backing files live in Dir/BinData and the
	// allocator state in Dir/dm.save.
	Dir string

	// PageSize is the size of a page in bytes.
	PageSize int

	// MaxFileSize is the size of every backing file in bytes.
	MaxFileSize int
}

// PagesPerFile is the number of pages held by one backing file.
func (o Options) PagesPerFile() int {
	if o.PageSize <= 0 {
		return 0
	}
	return o.MaxFileSize / o.PageSize
}

// Stats summarizes the allocator partition.
type Stats struct {
	Files        int
	PagesPerFile int
	Allocated    int
	Free         int
}

// Total is the number of pages ever created.
func (s Stats) Total() int {
	return s.Allocated + s.Free
}

// Allocator owns the space of page ids. Every page ever created is either
// allocated or free; free pages are reused most recently freed first.
type Allocator struct {
	log  *logrus.Logger
	opts Options

	files     int
	allocated []PageID
	free      []PageID // top of the stack is the last element

	// known maps every created page to whether it is currently allocated.
	known map[PageID]bool
}

// Open builds an allocator over opts.Dir, restoring dm.save when it exists.
// No backing file is created until the first allocation needs one.
func Open(log *logrus.Logger, opts Options) (*Allocator, error) {
	if opts.PagesPerFile() < 1 || opts.MaxFileSize%opts.PageSize != 0 {
		return nil, errs.Protocol("open allocator", "max file size %d is not a positive multiple of page size %d",
			opts.MaxFileSize, opts.PageSize)
	}

	a := &Allocator{
		log:   log,
		opts:  opts,
		known: make(map[PageID]bool),
	}

	if err := a.LoadState(); err != nil {
		return nil, err
	}

	return a, nil
}

// PageSize returns the size of a page in bytes.
func (a *Allocator) PageSize() int {
	return a.opts.PageSize
}

// AllocPage hands out the most recently freed page, growing the backing store
// by one file when no free page is left.
func (a *Allocator) AllocPage() (PageID, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.allocated = append(a.allocated, id)
		a.known[id] = true
		return id, nil
	}

	return a.extend()
}

// extend creates the next backing file. Its first page is returned allocated;
// the rest are pushed on the free stack so that page 1 is handed out next.
func (a *Allocator) extend() (PageID, error) {
	fileIdx := int32(a.files)
	path := BackingFilePath(a.opts.Dir, fileIdx)

	if err := createBackingFile(path, a.opts.MaxFileSize); err != nil {
		a.log.WithError(err).Errorf("could not extend backing store with %s", path)
		return InvalidPageID, errs.Exhausted("alloc page", err)
	}
	a.files++

	pagesPerFile := int32(a.opts.PagesPerFile())
	for p := pagesPerFile - 1; p >= 1; p-- {
		id := PageID{FileIdx: fileIdx, PageIdx: p}
		a.free = append(a.free, id)
		a.known[id] = false
	}

	first := PageID{FileIdx: fileIdx, PageIdx: 0}
	a.allocated = append(a.allocated, first)
	a.known[first] = true

	a.log.Debugf("created backing file %s with %d pages", path, pagesPerFile)

	return first, nil
}

// DeallocPage moves id from the allocated set to the top of the free stack.
// The remaining allocated pages keep their relative order.
func (a *Allocator) DeallocPage(id PageID) error {
	if allocated, ok := a.known[id]; !ok || !allocated {
		return errs.Protocol("dealloc page", "page %s is not allocated", id)
	}

	pivot := -1
	for i, allocatedID := range a.allocated {
		if allocatedID == id {
			pivot = i
			break
		}
	}
	if pivot < 0 {
		return errs.Consistency("dealloc page", "page %s marked allocated but missing from the allocated set", id)
	}

	a.allocated = append(a.allocated[:pivot], a.allocated[pivot+1:]...)
	a.free = append(a.free, id)
	a.known[id] = false

	return nil
}

// FindPageID returns the tracked id equal to value, if the allocator created it.
func (a *Allocator) FindPageID(value PageID) (PageID, bool) {
	if _, ok := a.known[value]; !ok {
		return InvalidPageID, false
	}
	return value, true
}

// IsAllocated reports whether id is currently allocated.
func (a *Allocator) IsAllocated(id PageID) bool {
	return a.known[id]
}

// Allocated returns the allocated pages in allocation order.
func (a *Allocator) Allocated() []PageID {
	return append([]PageID(nil), a.allocated...)
}

// Free returns the free stack from bottom to top; the last element is the
// next page AllocPage hands out.
func (a *Allocator) Free() []PageID {
	return append([]PageID(nil), a.free...)
}

// Stats summarizes the partition.
func (a *Allocator) Stats() Stats {
	return Stats{
		Files:        a.files,
		PagesPerFile: a.opts.PagesPerFile(),
		Allocated:    len(a.allocated),
		Free:         len(a.free),
	}
}

// ReadPage copies page id into buf, which must be exactly one page long.
func (a *Allocator) ReadPage(id PageID, buf []byte) error {
	offset, err := a.pageOffset("read page", id, buf)
	if err != nil {
		return err
	}

	err = withMappedFile(BackingFilePath(a.opts.Dir, id.FileIdx), a.opts.MaxFileSize, false, func(mapped []byte) {
		copy(buf, mapped[offset:offset+a.opts.PageSize])
	})
	if err != nil {
		return errs.IO("read page "+id.String(), err)
	}

	return nil
}

// WritePage copies buf, which must be exactly one page long, into page id.
func (a *Allocator) WritePage(id PageID, buf []byte) error {
	offset, err := a.pageOffset("write page", id, buf)
	if err != nil {
		return err
	}

	err = withMappedFile(BackingFilePath(a.opts.Dir, id.FileIdx), a.opts.MaxFileSize, true, func(mapped []byte) {
		copy(mapped[offset:offset+a.opts.PageSize], buf)
	})
	if err != nil {
		return errs.IO("write page "+id.String(), err)
	}

	return nil
}

func (a *Allocator) pageOffset(op string, id PageID, buf []byte) (int, error) {
	if _, ok := a.known[id]; !ok {
		return 0, errs.Protocol(op, "page %s was never allocated", id)
	}
	if len(buf) != a.opts.PageSize {
		return 0, errs.Protocol(op, "buffer is %d bytes, page size is %d", len(buf), a.opts.PageSize)
	}
	return int(id.PageIdx) * a.opts.PageSize, nil
}
