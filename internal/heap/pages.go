package heap

import (
	"encoding/binary"

	"github.com/joeandaverde/heapdb/internal/storage"
)

// Header page layout, little-endian:
//
//	0   u8   hasPrev
//	1   u8   hasNext
//	4   u32  number of data page descriptors
//	8   i32  prev file index, i32 prev page index
//	16  i32  next file index, i32 next page index
//	24  descriptors, 12 bytes each: i32 file index, i32 page index, u32 free bytes
const (
	headerFixedSize = 24
	descriptorSize  = 12
)

// Data page layout: records grow from offset 0, the slot directory
// {u32 slotCount, u32 firstFreeOffset} sits in the last 8 bytes and slot
// entry i {u32 start, u32 size} sits right below it at pageSize-8-8*(i+1).
const (
	directorySize = 8
	slotSize      = 8
)

// descriptorCapacity is the number of data page descriptors one header page holds.
func descriptorCapacity(pageSize int) int {
	return (pageSize - headerFixedSize) / descriptorSize
}

// maxRecordSize is the largest record an empty data page can hold together
// with its slot entry.
func maxRecordSize(pageSize int) int {
	return pageSize - directorySize - slotSize
}

var le = binary.LittleEndian

func putPageID(b []byte, id storage.PageID) {
	le.PutUint32(b, uint32(id.FileIdx))
	le.PutUint32(b[4:], uint32(id.PageIdx))
}

func getPageID(b []byte) storage.PageID {
	return storage.PageID{
		FileIdx: int32(le.Uint32(b)),
		PageIdx: int32(le.Uint32(b[4:])),
	}
}

type headerPage []byte

func (h headerPage) init() {
	for i := range h {
		h[i] = 0
	}
}

func (h headerPage) hasPrev() bool { return h[0] != 0 }
func (h headerPage) hasNext() bool { return h[1] != 0 }

func (h headerPage) prev() storage.PageID { return getPageID(h[8:]) }
func (h headerPage) next() storage.PageID { return getPageID(h[16:]) }

func (h headerPage) setPrev(id storage.PageID) {
	h[0] = 1
	putPageID(h[8:], id)
}

func (h headerPage) setNext(id storage.PageID) {
	h[1] = 1
	putPageID(h[16:], id)
}

func (h headerPage) count() int {
	return int(le.Uint32(h[4:]))
}

func (h headerPage) full() bool {
	return h.count() >= descriptorCapacity(len(h))
}

func (h headerPage) descriptor(i int) (storage.PageID, uint32) {
	off := headerFixedSize + i*descriptorSize
	return getPageID(h[off:]), le.Uint32(h[off+8:])
}

func (h headerPage) setFree(i int, free uint32) {
	le.PutUint32(h[headerFixedSize+i*descriptorSize+8:], free)
}

func (h headerPage) appendDescriptor(id storage.PageID, free uint32) {
	n := h.count()
	off := headerFixedSize + n*descriptorSize
	putPageID(h[off:], id)
	le.PutUint32(h[off+8:], free)
	le.PutUint32(h[4:], uint32(n+1))
}

type dataPage []byte

func (p dataPage) init() {
	for i := range p {
		p[i] = 0
	}
}

func (p dataPage) slotCount() int {
	return int(le.Uint32(p[len(p)-directorySize:]))
}

func (p dataPage) firstFree() int {
	return int(le.Uint32(p[len(p)-directorySize+4:]))
}

func (p dataPage) setSlotCount(n int) {
	le.PutUint32(p[len(p)-directorySize:], uint32(n))
}

func (p dataPage) setFirstFree(off int) {
	le.PutUint32(p[len(p)-directorySize+4:], uint32(off))
}

// slotOffset is the byte offset of slot entry i.
func (p dataPage) slotOffset(i int) int {
	return len(p) - directorySize - slotSize*(i+1)
}

func (p dataPage) slot(i int) (start, size int) {
	off := p.slotOffset(i)
	return int(le.Uint32(p[off:])), int(le.Uint32(p[off+4:]))
}

func (p dataPage) setSlot(i, start, size int) {
	off := p.slotOffset(i)
	le.PutUint32(p[off:], uint32(start))
	le.PutUint32(p[off+4:], uint32(size))
}

// freeSpace is the room left for one more record appended with a new slot
// entry.
func (p dataPage) freeSpace() int {
	free := p.slotOffset(p.slotCount()) - p.firstFree()
	if free < 0 {
		return 0
	}
	return free
}

// reusableSpan is the room available to a record placed in free slot i:
// up to the next slot's record, or to firstFreeOffset for the last slot.
func (p dataPage) reusableSpan(i int) int {
	start, _ := p.slot(i)
	end := p.firstFree()
	if i+1 < p.slotCount() {
		end, _ = p.slot(i + 1)
	}
	if end < start {
		return 0
	}
	return end - start
}

// available is the largest record the page can take right now, either in a
// free slot or appended.
func (p dataPage) available() int {
	best := p.freeSpace()
	for i := 0; i < p.slotCount(); i++ {
		if _, size := p.slot(i); size == 0 {
			if span := p.reusableSpan(i); span > best {
				best = span
			}
		}
	}
	return best
}
