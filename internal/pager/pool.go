package pager

import "github.com/joeandaverde/heapdb/internal/storage"

const nilFrame = -1

// frame is one cache slot. Frames are linked by index into a recency list,
// most recently fetched at the head.
type frame struct {
	page   storage.PageID
	loaded bool
	dirty  bool
	pins   int

	// data is allocated on first load and dropped by FlushAll.
	data []byte

	prev, next int
}

func (f *frame) reset() {
	f.page = storage.InvalidPageID
	f.loaded = false
	f.dirty = false
	f.pins = 0
}

// frameList is an arena of frames with an index-linked recency order.
type frameList struct {
	frames     []frame
	head, tail int
}

func newFrameList(n int) frameList {
	l := frameList{
		frames: make([]frame, n),
		head:   nilFrame,
		tail:   nilFrame,
	}
	for i := range l.frames {
		l.frames[i].page = storage.InvalidPageID
		l.frames[i].prev = i - 1
		l.frames[i].next = i + 1
	}
	if n > 0 {
		l.frames[n-1].next = nilFrame
		l.head, l.tail = 0, n-1
	}
	return l
}

func (l *frameList) unlink(i int) {
	f := &l.frames[i]
	if f.prev != nilFrame {
		l.frames[f.prev].next = f.next
	} else {
		l.head = f.next
	}
	if f.next != nilFrame {
		l.frames[f.next].prev = f.prev
	} else {
		l.tail = f.prev
	}
	f.prev, f.next = nilFrame, nilFrame
}

func (l *frameList) moveToHead(i int) {
	if l.head == i {
		return
	}
	l.unlink(i)
	f := &l.frames[i]
	f.next = l.head
	if l.head != nilFrame {
		l.frames[l.head].prev = i
	}
	l.head = i
	if l.tail == nilFrame {
		l.tail = i
	}
}

// fromTail returns the first frame, walking tail to head, accepted by ok.
func (l *frameList) fromTail(ok func(*frame) bool) int {
	for i := l.tail; i != nilFrame; i = l.frames[i].prev {
		if ok(&l.frames[i]) {
			return i
		}
	}
	return nilFrame
}

// fromHead returns the first frame, walking head to tail, accepted by ok.
func (l *frameList) fromHead(ok func(*frame) bool) int {
	for i := l.head; i != nilFrame; i = l.frames[i].next {
		if ok(&l.frames[i]) {
			return i
		}
	}
	return nilFrame
}
