// Package heap stores relations as heap files: a chain of header pages
// listing the relation's data pages, and slotted data pages holding records.
package heap

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/errs"
	"github.com/joeandaverde/heapdb/internal/pager"
	"github.com/joeandaverde/heapdb/internal/record"
	"github.com/joeandaverde/heapdb/internal/storage"
)

var (
	ErrRecordTooLarge = errors.New("record does not fit in a data page")
	ErrNoSuchRecord   = errors.New("no such record")
	ErrSchemaMismatch = errors.New("record schema does not match relation")
)

// Allocator hands out and takes back page ids.
type Allocator interface {
	AllocPage() (storage.PageID, error)
	DeallocPage(id storage.PageID) error
	PageSize() int
}

// Pool pins pages in memory.
type Pool interface {
	FetchPage(id storage.PageID) (*pager.PageGuard, error)
	PinCount(id storage.PageID) int
	Discard(id storage.PageID) error
}

var (
	_ Allocator = (*storage.Allocator)(nil)
	_ Pool      = (*pager.BufferPool)(nil)
)

// Relation is a named heap file.
type Relation struct {
	OID        uint64
	Name       string
	Schema     *record.Schema
	HeaderPage storage.PageID
	TailPage   storage.PageID
}

// RecordID locates a record: its data page and slot.
type RecordID struct {
	Page storage.PageID
	Slot int
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s#%d", r.Page, r.Slot)
}

type Heap struct {
	log      *logrus.Logger
	alloc    Allocator
	pool     Pool
	pageSize int

	mu      sync.Mutex
	nextOID uint64
}

func New(log *logrus.Logger, alloc Allocator, pool Pool) *Heap {
	return &Heap{
		log:      log,
		alloc:    alloc,
		pool:     pool,
		pageSize: alloc.PageSize(),
	}
}

// release unpins g, keeping the first error seen.
func release(g *pager.PageGuard, err *error) {
	if rerr := g.Release(); rerr != nil && *err == nil {
		*err = rerr
	}
}

// Attach makes a relation created in an earlier run known to the heap so new
// relations never reuse its OID.
func (h *Heap) Attach(rel *Relation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rel.OID >= h.nextOID {
		h.nextOID = rel.OID + 1
	}
}

// CreateRelation allocates the first header page of a new relation.
func (h *Heap) CreateRelation(name string, schema *record.Schema) (rel *Relation, err error) {
	id, err := h.alloc.AllocPage()
	if err != nil {
		return nil, errors.Wrapf(err, "create relation %s", name)
	}

	g, err := h.pool.FetchPage(id)
	if err != nil {
		h.giveBack(id)
		return nil, errors.Wrapf(err, "create relation %s", name)
	}
	defer release(g, &err)

	headerPage(g.Data()).init()
	g.MarkDirty()

	h.mu.Lock()
	oid := h.nextOID
	h.nextOID++
	h.mu.Unlock()

	h.log.Infof("created relation %s (oid %d) with header page %s", name, oid, id)

	return &Relation{
		OID:        oid,
		Name:       name,
		Schema:     schema,
		HeaderPage: id,
		TailPage:   id,
	}, nil
}

// AppendDataPage adds an empty data page to the relation, growing the header
// chain first when the tail header is full.
func (h *Heap) AppendDataPage(rel *Relation) (storage.PageID, error) {
	if err := h.growHeaderChain(rel); err != nil {
		return storage.InvalidPageID, err
	}

	dataID, err := h.alloc.AllocPage()
	if err != nil {
		return storage.InvalidPageID, errors.Wrapf(err, "append data page to %s", rel.Name)
	}
	if err := h.initDataPage(dataID); err != nil {
		h.giveBack(dataID)
		return storage.InvalidPageID, err
	}

	if err := h.withPage(rel.TailPage, func(data []byte) (bool, error) {
		headerPage(data).appendDescriptor(dataID, uint32(h.pageSize))
		return true, nil
	}); err != nil {
		h.giveBack(dataID)
		return storage.InvalidPageID, err
	}

	h.log.Debugf("relation %s: appended data page %s", rel.Name, dataID)

	return dataID, nil
}

// giveBack returns a page that never made it into a relation.
func (h *Heap) giveBack(id storage.PageID) {
	if err := h.pool.Discard(id); err != nil {
		h.log.WithError(err).Errorf("could not give back page %s", id)
		return
	}
	if err := h.alloc.DeallocPage(id); err != nil {
		h.log.WithError(err).Errorf("could not give back page %s", id)
	}
}

func (h *Heap) initDataPage(id storage.PageID) error {
	return h.withPage(id, func(data []byte) (bool, error) {
		dataPage(data).init()
		return true, nil
	})
}

// growHeaderChain links a new tail header page when the current one cannot
// take another descriptor.
func (h *Heap) growHeaderChain(rel *Relation) error {
	var full bool
	err := h.withPage(rel.TailPage, func(data []byte) (bool, error) {
		hdr := headerPage(data)
		if hdr.hasNext() {
			return false, errs.Consistency("append data page", "tail header %s of %s has a successor", rel.TailPage, rel.Name)
		}
		full = hdr.full()
		return false, nil
	})
	if err != nil || !full {
		return err
	}

	nextID, err := h.alloc.AllocPage()
	if err != nil {
		return errors.Wrapf(err, "extend header chain of %s", rel.Name)
	}

	prevID := rel.TailPage
	if err := h.withPage(nextID, func(data []byte) (bool, error) {
		hdr := headerPage(data)
		hdr.init()
		hdr.setPrev(prevID)
		return true, nil
	}); err != nil {
		return err
	}

	if err := h.withPage(prevID, func(data []byte) (bool, error) {
		headerPage(data).setNext(nextID)
		return true, nil
	}); err != nil {
		return err
	}

	rel.TailPage = nextID
	h.log.Debugf("relation %s: header chain grew with %s", rel.Name, nextID)

	return nil
}

// withPage pins id for the duration of fn. fn reports whether it modified
// the page.
func (h *Heap) withPage(id storage.PageID, fn func(data []byte) (bool, error)) (err error) {
	g, err := h.pool.FetchPage(id)
	if err != nil {
		return err
	}
	defer release(g, &err)

	dirty, err := fn(g.Data())
	if dirty {
		g.MarkDirty()
	}
	return err
}

// descriptorRef locates a data page descriptor in the header chain.
type descriptorRef struct {
	header storage.PageID
	index  int
	page   storage.PageID
}

// eachHeader walks the header chain from the head, pinning one header at a
// time. fn returns true to stop the walk.
func (h *Heap) eachHeader(rel *Relation, fn func(id storage.PageID, hdr headerPage) (bool, error)) error {
	id := rel.HeaderPage
	for steps := 0; ; steps++ {
		var (
			hasNext bool
			next    storage.PageID
			stop    bool
		)

		err := h.withPage(id, func(data []byte) (bool, error) {
			hdr := headerPage(data)
			var err error
			if stop, err = fn(id, hdr); err != nil {
				return false, err
			}
			hasNext, next = hdr.hasNext(), hdr.next()
			return false, nil
		})
		if err != nil || stop || !hasNext {
			return err
		}

		if next == id || steps > 1<<20 {
			return errs.Consistency("walk header chain", "relation %s: header chain loops at %s", rel.Name, id)
		}
		id = next
	}
}

func (h *Heap) findFree(rel *Relation, size int) (descriptorRef, bool, error) {
	var (
		ref   descriptorRef
		found bool
	)

	err := h.eachHeader(rel, func(id storage.PageID, hdr headerPage) (bool, error) {
		for i := 0; i < hdr.count(); i++ {
			page, free := hdr.descriptor(i)
			if int(free) >= size {
				ref, found = descriptorRef{header: id, index: i, page: page}, true
				return true, nil
			}
		}
		return false, nil
	})

	return ref, found, err
}

// FindFreeDataPage returns the first data page, in header chain order,
// whose descriptor advertises at least size free bytes.
func (h *Heap) FindFreeDataPage(rel *Relation, size int) (storage.PageID, bool, error) {
	ref, ok, err := h.findFree(rel, size)
	if err != nil || !ok {
		return storage.InvalidPageID, false, err
	}
	return ref.page, true, nil
}

// InsertRecord stores rec in the first data page with room for it, adding a
// data page when none has.
func (h *Heap) InsertRecord(rel *Relation, rec *record.Record) (RecordID, error) {
	if rec.Schema() != rel.Schema {
		return RecordID{}, errs.Wrap(errs.ErrProtocol, "insert record into "+rel.Name, ErrSchemaMismatch)
	}

	size := rec.Len()
	if size > maxRecordSize(h.pageSize) {
		return RecordID{}, errs.Wrap(errs.ErrProtocol, "insert record into "+rel.Name,
			errors.Wrapf(ErrRecordTooLarge, "%d bytes, at most %d", size, maxRecordSize(h.pageSize)))
	}

	for {
		ref, ok, err := h.findFree(rel, size)
		if err != nil {
			return RecordID{}, err
		}
		if !ok {
			if _, err := h.AppendDataPage(rel); err != nil {
				return RecordID{}, err
			}
			continue
		}

		rid, free, written, err := h.writeRecord(ref.page, rec)
		if err != nil {
			return RecordID{}, err
		}

		if err := h.setFree(ref, free); err != nil {
			return RecordID{}, err
		}

		if written {
			return rid, nil
		}
		h.log.Debugf("relation %s: data page %s has %d free bytes, not %d", rel.Name, ref.page, free, size)
	}
}

// writeRecord places rec in data page id, reusing the first free slot large
// enough or appending a new one. It returns the largest record the page can
// still take and whether rec was written at all.
func (h *Heap) writeRecord(id storage.PageID, rec *record.Record) (rid RecordID, free int, written bool, err error) {
	err = h.withPage(id, func(data []byte) (bool, error) {
		p := dataPage(data)
		n, firstFree := p.slotCount(), p.firstFree()
		if p.slotOffset(n-1) < firstFree {
			return false, errs.Consistency("write record", "data page %s: %d slots overlap records ending at %d", id, n, firstFree)
		}

		size := rec.Len()
		slot, start := -1, firstFree

		for i := 0; i < n; i++ {
			if s, sz := p.slot(i); sz == 0 && p.reusableSpan(i) >= size {
				slot, start = i, s
				break
			}
		}

		if slot < 0 {
			if p.freeSpace() < size {
				free = p.available()
				return false, nil
			}
			slot = n
			p.setSlotCount(n + 1)
			p.setFirstFree(firstFree + size)
		}

		if _, err := rec.Encode(data[start:]); err != nil {
			return false, err
		}
		p.setSlot(slot, start, size)

		rid, free, written = RecordID{Page: id, Slot: slot}, p.available(), true
		return true, nil
	})

	return rid, free, written, err
}

// DeleteRecord frees the record's slot for reuse.
func (h *Heap) DeleteRecord(rel *Relation, rid RecordID) error {
	ref, ok, err := h.locate(rel, rid.Page)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Wrap(errs.ErrProtocol, "delete record", errors.Wrapf(ErrNoSuchRecord, "%s is not a data page of %s", rid.Page, rel.Name))
	}

	var free int
	if err := h.withPage(rid.Page, func(data []byte) (bool, error) {
		p := dataPage(data)
		if rid.Slot < 0 || rid.Slot >= p.slotCount() {
			return false, errs.Wrap(errs.ErrProtocol, "delete record", errors.Wrapf(ErrNoSuchRecord, "%s", rid))
		}
		start, size := p.slot(rid.Slot)
		if size == 0 {
			return false, errs.Wrap(errs.ErrProtocol, "delete record", errors.Wrapf(ErrNoSuchRecord, "%s already deleted", rid))
		}
		p.setSlot(rid.Slot, start, 0)
		free = p.available()
		return true, nil
	}); err != nil {
		return err
	}

	return h.setFree(ref, free)
}

func (h *Heap) setFree(ref descriptorRef, free int) error {
	return h.withPage(ref.header, func(data []byte) (bool, error) {
		headerPage(data).setFree(ref.index, uint32(free))
		return true, nil
	})
}

// locate finds the descriptor of data page id in the relation's header chain.
func (h *Heap) locate(rel *Relation, id storage.PageID) (descriptorRef, bool, error) {
	var (
		ref   descriptorRef
		found bool
	)

	err := h.eachHeader(rel, func(header storage.PageID, hdr headerPage) (bool, error) {
		for i := 0; i < hdr.count(); i++ {
			if page, _ := hdr.descriptor(i); page == id {
				ref, found = descriptorRef{header: header, index: i, page: page}, true
				return true, nil
			}
		}
		return false, nil
	})

	return ref, found, err
}

// ScanDataPage decodes every live record of data page id in slot order.
func (h *Heap) ScanDataPage(rel *Relation, id storage.PageID) ([]*record.Record, error) {
	var records []*record.Record

	err := h.withPage(id, func(data []byte) (bool, error) {
		p := dataPage(data)
		n := p.slotCount()
		if n > 0 && p.slotOffset(n-1) < p.firstFree() {
			return false, errs.Consistency("scan data page", "data page %s: %d slots overlap records ending at %d", id, n, p.firstFree())
		}

		for i := 0; i < n; i++ {
			start, size := p.slot(i)
			if size == 0 {
				continue
			}
			if start+size > p.firstFree() {
				return false, errs.Consistency("scan data page", "data page %s: slot %d [%d,%d) past %d", id, i, start, start+size, p.firstFree())
			}

			rec := record.New(rel.Schema)
			read, err := rec.Decode(data[start : start+size])
			if err != nil {
				return false, errors.Wrapf(err, "slot %d of %s", i, id)
			}
			if read != size {
				return false, errs.Consistency("scan data page", "data page %s: slot %d holds %d bytes, record is %d", id, i, size, read)
			}
			records = append(records, rec)
		}
		return false, nil
	})

	return records, err
}

// DataPages lists the relation's data pages in header chain order.
func (h *Heap) DataPages(rel *Relation) ([]storage.PageID, error) {
	var pages []storage.PageID
	err := h.eachHeader(rel, func(_ storage.PageID, hdr headerPage) (bool, error) {
		for i := 0; i < hdr.count(); i++ {
			id, _ := hdr.descriptor(i)
			pages = append(pages, id)
		}
		return false, nil
	})
	return pages, err
}

// HeaderPages lists the relation's header chain from the head.
func (h *Heap) HeaderPages(rel *Relation) ([]storage.PageID, error) {
	var pages []storage.PageID
	err := h.eachHeader(rel, func(id storage.PageID, _ headerPage) (bool, error) {
		pages = append(pages, id)
		return false, nil
	})
	return pages, err
}

// GetAllRecords scans every data page of the relation.
func (h *Heap) GetAllRecords(rel *Relation) ([]*record.Record, error) {
	pages, err := h.DataPages(rel)
	if err != nil {
		return nil, err
	}

	var records []*record.Record
	for _, id := range pages {
		recs, err := h.ScanDataPage(rel, id)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// DestroyRelation gives every data and header page of the relation back to
// the allocator, dropping them from the pool. Nothing is freed while any of
// the pages is pinned.
func (h *Heap) DestroyRelation(rel *Relation) error {
	headers, err := h.HeaderPages(rel)
	if err != nil {
		return err
	}
	data, err := h.DataPages(rel)
	if err != nil {
		return err
	}

	pages := append(data, headers...)
	for _, id := range pages {
		if pins := h.pool.PinCount(id); pins > 0 {
			return errs.Consistency("destroy relation", "relation %s: page %s is still pinned %d times", rel.Name, id, pins)
		}
	}

	for _, id := range pages {
		if err := h.pool.Discard(id); err != nil {
			return errors.Wrapf(err, "destroy relation %s", rel.Name)
		}
		if err := h.alloc.DeallocPage(id); err != nil {
			return errors.Wrapf(err, "destroy relation %s", rel.Name)
		}
	}

	h.log.Infof("destroyed relation %s: freed %d data and %d header pages", rel.Name, len(data), len(headers))

	rel.HeaderPage, rel.TailPage = storage.InvalidPageID, storage.InvalidPageID

	return nil
}
