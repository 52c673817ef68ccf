package storage

import "fmt"

// PageID addresses one fixed-size page: page PageIdx of backing file FileIdx.
//
// PageID is a comparable value, so two ids naming the same page are always
// equal and can key maps directly.
type PageID struct {
	FileIdx int32
	PageIdx int32
}

// InvalidPageID never names a page.
var InvalidPageID = PageID{FileIdx: -1, PageIdx: -1}

// Valid reports whether id can name a page.
func (id PageID) Valid() bool {
	return id.FileIdx >= 0 && id.PageIdx >= 0
}

func (id PageID) String() string {
	return fmt.Sprintf("F%d:P%d", id.FileIdx, id.PageIdx)
}
