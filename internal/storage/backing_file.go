package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// BinDir is the directory, below the storage directory, holding backing files.
	BinDir = "BinData"

	backingFileExt = ".rsdb"
)

// BackingFilePath returns the path of backing file fileIdx under dir.
func BackingFilePath(dir string, fileIdx int32) string {
	return filepath.Join(dir, BinDir, fmt.Sprintf("F%d%s", fileIdx, backingFileExt))
}

// createBackingFile creates an empty file at path and truncates it to size bytes.
// A non-empty file already at path is never overwritten.
func createBackingFile(path string, size int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() != 0 {
		return errors.Errorf("%s: refusing to truncate non-empty file (%d bytes)", path, info.Size())
	}

	if err := file.Truncate(int64(size)); err != nil {
		return errors.Wrapf(err, "truncate %s", path)
	}

	return nil
}

// withMappedFile maps the whole backing file at path for the duration of fn.
// Nothing is cached between calls: the descriptor and the mapping are released
// before returning.
func withMappedFile(path string, size int, writable bool, fn func(mapped []byte)) error {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if writable {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}

	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	// Touching a mapping past the end of the file raises SIGBUS.
	info, err := file.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() < int64(size) {
		return errors.Errorf("%s: file is %d bytes, expected %d", path, info.Size(), size)
	}

	mapped, err := unix.Mmap(int(file.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "mmap %s", path)
	}

	fn(mapped)

	if err := unix.Munmap(mapped); err != nil {
		return errors.Wrapf(err, "munmap %s", path)
	}

	return nil
}
