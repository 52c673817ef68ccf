package pager

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/errs"
	"github.com/joeandaverde/heapdb/internal/storage"
)

// ErrPoolExhausted is returned, classified as a protocol violation, when
// every frame is pinned and a fetch needs a new one.
var ErrPoolExhausted = errors.New("every frame is pinned")

// PageStore is the backing store frames are loaded from and written back to.
type PageStore interface {
	PageSize() int
	ReadPage(id storage.PageID, buf []byte) error
	WritePage(id storage.PageID, buf []byte) error
}

// Options configures a BufferPool.
type Options struct {
	// Frames is the number of pages held in memory.
	Frames int

	Policy Policy

	// Metrics is optional.
	Metrics *Metrics
}

// BufferPool caches a fixed number of pages of a PageStore. Pages are pinned
// by FetchPage and unpinned by releasing the returned guard; only unpinned
// frames are ever evicted.
type BufferPool struct {
	mu sync.Mutex

	log      *logrus.Logger
	store    PageStore
	pageSize int
	policy   Policy
	metrics  *Metrics

	list      frameList
	pageTable map[storage.PageID]int
}

func NewBufferPool(log *logrus.Logger, store PageStore, opts Options) (*BufferPool, error) {
	if opts.Frames < 1 {
		return nil, errs.Protocol("new buffer pool", "need at least one frame, got %d", opts.Frames)
	}
	if opts.Policy != LRU && opts.Policy != MRU {
		return nil, errs.Protocol("new buffer pool", "unknown policy %s", opts.Policy)
	}

	return &BufferPool{
		log:       log,
		store:     store,
		pageSize:  store.PageSize(),
		policy:    opts.Policy,
		metrics:   opts.Metrics,
		list:      newFrameList(opts.Frames),
		pageTable: make(map[storage.PageID]int, opts.Frames),
	}, nil
}

// FetchPage pins page id in a frame, loading it from the store if it is not
// resident, and returns a guard over the frame's bytes.
func (p *BufferPool) FetchPage(id storage.PageID) (*PageGuard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !id.Valid() {
		return nil, errs.Protocol("fetch page", "invalid page id %s", id)
	}

	if idx, ok := p.pageTable[id]; ok {
		p.metrics.hit()
		return p.pin(idx)
	}
	p.metrics.miss()

	idx := p.victim()
	if idx == nilFrame {
		return nil, errs.Wrap(errs.ErrProtocol, "fetch page "+id.String(), ErrPoolExhausted)
	}

	f := &p.list.frames[idx]
	if f.loaded {
		if f.dirty {
			if err := p.store.WritePage(f.page, f.data); err != nil {
				p.log.WithError(err).Errorf("could not write back page %s", f.page)
				return nil, errors.Wrapf(err, "evict page %s", f.page)
			}
			p.metrics.wroteBack()
		}

		p.log.Debugf("evicting page %s for %s (%s)", f.page, id, p.policy)
		delete(p.pageTable, f.page)
		p.metrics.evicted()
	}
	f.reset()

	if f.data == nil {
		f.data = make([]byte, p.pageSize)
	}

	if err := p.store.ReadPage(id, f.data); err != nil {
		return nil, errors.Wrapf(err, "load page %s", id)
	}

	f.page = id
	f.loaded = true
	p.pageTable[id] = idx

	return p.pin(idx)
}

func (p *BufferPool) pin(idx int) (*PageGuard, error) {
	f := &p.list.frames[idx]
	f.pins++
	p.list.moveToHead(idx)

	if p.list.head != idx {
		f.pins--
		return nil, errs.Consistency("fetch page", "frame for %s is not at the head after promotion", f.page)
	}

	return &PageGuard{pool: p, id: f.page, data: f.data}, nil
}

// victim picks the frame to load a new page into: a never-loaded frame if
// there is one, otherwise the first unpinned frame in policy order.
func (p *BufferPool) victim() int {
	empty := func(f *frame) bool { return !f.loaded }
	if idx := p.list.fromTail(empty); idx != nilFrame {
		return idx
	}

	unpinned := func(f *frame) bool { return f.pins == 0 }
	switch p.policy {
	case MRU:
		return p.list.fromHead(unpinned)
	default:
		return p.list.fromTail(unpinned)
	}
}

// ReleasePage unpins page id. A dirty release marks the frame dirty until it
// is written back; a clean release never clears the flag.
func (p *BufferPool) ReleasePage(id storage.PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return errs.Protocol("release page", "page %s is not resident", id)
	}

	f := &p.list.frames[idx]
	if f.pins == 0 {
		return errs.Protocol("release page", "page %s is not pinned", id)
	}

	f.pins--
	f.dirty = f.dirty || dirty

	return nil
}

// FlushAll writes every dirty frame back and empties the pool. It refuses to
// run while any page is pinned.
func (p *BufferPool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.list.frames {
		if f := &p.list.frames[i]; f.loaded && f.pins > 0 {
			return errs.Consistency("flush all", "page %s is still pinned %d times", f.page, f.pins)
		}
	}

	flushed := 0
	for i := range p.list.frames {
		f := &p.list.frames[i]
		if !f.loaded {
			continue
		}

		if f.dirty {
			if err := p.store.WritePage(f.page, f.data); err != nil {
				p.log.WithError(err).Errorf("could not flush page %s", f.page)
				return errors.Wrapf(err, "flush page %s", f.page)
			}
			p.metrics.wroteBack()
			flushed++
		}

		delete(p.pageTable, f.page)
		f.reset()
		f.data = nil
	}

	p.log.Debugf("flushed %d dirty pages", flushed)

	return nil
}

// Discard drops page id from the pool without writing it back, for pages
// being given back to the allocator. A pinned page is refused.
func (p *BufferPool) Discard(id storage.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return nil
	}

	f := &p.list.frames[idx]
	if f.pins > 0 {
		return errs.Consistency("discard page", "page %s is still pinned %d times", id, f.pins)
	}

	delete(p.pageTable, id)
	f.reset()
	p.log.Debugf("discarded page %s", id)

	return nil
}

// SetPolicy switches the replacement policy for subsequent evictions.
func (p *BufferPool) SetPolicy(policy Policy) error {
	if policy != LRU && policy != MRU {
		return errs.Protocol("set policy", "unknown policy %s", policy)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.policy = policy
	return nil
}

func (p *BufferPool) Policy() Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// Capacity is the number of frames.
func (p *BufferPool) Capacity() int {
	return len(p.list.frames)
}

func (p *BufferPool) PageSize() int {
	return p.pageSize
}

// Resident reports whether page id is loaded in a frame.
func (p *BufferPool) Resident(id storage.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pageTable[id]
	return ok
}

// PinCount returns the pin count of page id, or 0 if it is not resident.
func (p *BufferPool) PinCount(id storage.PageID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageTable[id]; ok {
		return p.list.frames[idx].pins
	}
	return 0
}

func (p *BufferPool) IsDirty(id storage.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageTable[id]; ok {
		return p.list.frames[idx].dirty
	}
	return false
}

// Order returns the resident pages from most to least recently fetched.
func (p *BufferPool) Order() []storage.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []storage.PageID
	for i := p.list.head; i != nilFrame; i = p.list.frames[i].next {
		if f := &p.list.frames[i]; f.loaded {
			ids = append(ids, f.page)
		}
	}
	return ids
}
