package storage

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/joeandaverde/heapdb/internal/errs"
)

// StateFile is the name of the allocator state file in the storage directory.
const StateFile = "dm.save"

// dm.save layout, native byte order:
//
//	int32 nb_allocated
//	nb_allocated x {int32 fileIdx, int32 pageIdx}   last allocated first
//	int32 nb_free
//	nb_free x {int32 fileIdx, int32 pageIdx}        top of the free stack first

// StatePath returns the path of the allocator state file under dir.
func StatePath(dir string) string {
	return filepath.Join(dir, StateFile)
}

// SaveState persists the allocated and free collections to dm.save.
func (a *Allocator) SaveState() error {
	if a.Stats().Total() != a.files*a.opts.PagesPerFile() {
		return errs.Consistency("save state", "%d pages tracked, %d files of %d pages created",
			a.Stats().Total(), a.files, a.opts.PagesPerFile())
	}

	path := StatePath(a.opts.Dir)
	tmp := path + ".tmp"

	if err := os.MkdirAll(a.opts.Dir, 0o750); err != nil {
		return errs.IO("save state", errors.Wrapf(err, "create %s", a.opts.Dir))
	}

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return errs.IO("save state", errors.Wrapf(err, "open %s", tmp))
	}

	w := bufio.NewWriter(file)
	err = writeIDs(w, a.allocated)
	if err == nil {
		err = writeIDs(w, a.free)
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errs.IO("save state", errors.Wrapf(err, "write %s", tmp))
	}

	if err := os.Rename(tmp, path); err != nil {
		return errs.IO("save state", errors.Wrapf(err, "rename %s", tmp))
	}

	a.log.Debugf("saved allocator state: %d allocated, %d free", len(a.allocated), len(a.free))

	return nil
}

// LoadState restores the partition from dm.save. A missing file leaves the
// allocator empty. The number of backing files is derived from the highest
// file index; no file is created here.
func (a *Allocator) LoadState() error {
	path := StatePath(a.opts.Dir)

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		a.log.Debugf("no allocator state at %s, starting empty", path)
		return nil
	}
	if err != nil {
		return errs.IO("load state", errors.Wrapf(err, "open %s", path))
	}
	defer file.Close()

	r := bufio.NewReader(file)

	allocated, err := readIDs(r)
	if err != nil {
		return errs.IO("load state", errors.Wrapf(err, "read allocated pages from %s", path))
	}
	free, err := readIDs(r)
	if err != nil {
		return errs.IO("load state", errors.Wrapf(err, "read free pages from %s", path))
	}

	pagesPerFile := a.opts.PagesPerFile()
	known := make(map[PageID]bool, len(allocated)+len(free))
	maxFile := int32(-1)

	track := func(id PageID, isAllocated bool) error {
		if !id.Valid() || int(id.PageIdx) >= pagesPerFile {
			return errs.Consistency("load state", "page %s outside a %d page file", id, pagesPerFile)
		}
		if _, dup := known[id]; dup {
			return errs.Consistency("load state", "page %s listed twice", id)
		}
		known[id] = isAllocated
		if id.FileIdx > maxFile {
			maxFile = id.FileIdx
		}
		return nil
	}

	for _, id := range allocated {
		if err := track(id, true); err != nil {
			return err
		}
	}
	for _, id := range free {
		if err := track(id, false); err != nil {
			return err
		}
	}

	files := int(maxFile) + 1
	if total := len(known); total != files*pagesPerFile {
		return errs.Consistency("load state", "%d pages listed, %d files of %d pages expected", total, files, pagesPerFile)
	}

	a.allocated = allocated
	a.free = free
	a.known = known
	a.files = files

	a.log.Infof("loaded allocator state: %d files, %d allocated, %d free", files, len(allocated), len(free))

	return nil
}

// writeIDs writes the count then ids from last to first.
func writeIDs(w io.Writer, ids []PageID) error {
	if err := binary.Write(w, binary.NativeEndian, int32(len(ids))); err != nil {
		return err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if err := binary.Write(w, binary.NativeEndian, ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// readIDs reads a block written by writeIDs and restores the in-memory order.
func readIDs(r io.Reader) ([]PageID, error) {
	var n int32
	if err := binary.Read(r, binary.NativeEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("negative page count %d", n)
	}

	ids := make([]PageID, n)
	for i := int(n) - 1; i >= 0; i-- {
		if err := binary.Read(r, binary.NativeEndian, &ids[i]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
