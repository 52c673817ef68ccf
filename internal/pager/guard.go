package pager

import (
	"github.com/joeandaverde/heapdb/internal/errs"
	"github.com/joeandaverde/heapdb/internal/storage"
)

// PageGuard is a pinned page returned by FetchPage. It must be released
// exactly once, usually with defer right after the fetch.
type PageGuard struct {
	pool     *BufferPool
	id       storage.PageID
	data     []byte
	dirty    bool
	released bool
}

func (g *PageGuard) ID() storage.PageID {
	return g.id
}

// Data is the frame's page buffer. It is only valid until Release.
func (g *PageGuard) Data() []byte {
	if g.released {
		return nil
	}
	return g.data
}

// MarkDirty records that the page was modified; the frame is written back
// before it is reused or flushed.
func (g *PageGuard) MarkDirty() {
	g.dirty = true
}

// Release unpins the page. Releasing a guard twice is a protocol violation.
func (g *PageGuard) Release() error {
	if g.released {
		return errs.Protocol("release page", "page %s already released by this guard", g.id)
	}
	g.released = true
	return g.pool.ReleasePage(g.id, g.dirty)
}
