// Package mmap maps finished table files read-only into memory so random row
// reads become memory copies instead of system calls.
//
// A mapping must only be taken of a file whose content no longer changes.
// Table files qualify once their status is COMPLETED or PARTIAL; the table
// writer replaces rather than truncates existing files, so a mapping stays
// valid even if the path is rewritten while it is open.
package mmap

import (
	stderrors "errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// ErrUnsupported is returned on platforms without memory mapping.
var ErrUnsupported = stderrors.New("memory mapping is not supported on this platform")

// Advice describes the expected access pattern of a mapping.
type Advice int

const (
	Normal Advice = iota
	Sequential
	Random
	WillNeed
)

// File is a read-only memory mapping of a file. It implements io.ReaderAt and
// is safe for concurrent use.
type File struct {
	mu       sync.RWMutex
	data     []byte
	pageSize int64

	bytesRead atomic.Int64
}

// Open maps the file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file")
	}
	defer f.Close()
	return Map(f)
}

// Map maps the current content of f. The mapping does not keep f open.
func Map(f *os.File) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat file")
	}
	size := info.Size()
	if size == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "cannot map an empty file")
	}
	if int64(int(size)) != size {
		return nil, errors.Newf(errors.ErrorTypeValidation, "file of %d bytes is too large to map", size)
	}
	data, err := mmap(int(f.Fd()), int(size))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to map file")
	}
	return &File{data: data, pageSize: int64(os.Getpagesize())}, nil
}

// Len returns the mapped size in bytes.
func (m *File) Len() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	m.bytesRead.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Advise tells the kernel how the whole mapping will be accessed.
func (m *File) Advise(a Advice) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.data) == 0 {
		return nil
	}
	return madvise(m.data, a)
}

// Prefetch asks the kernel to read the pages covering [off, off+n) ahead of
// use. Ranges outside the mapping are clipped.
func (m *File) Prefetch(off, n int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	size := int64(len(m.data))
	if off < 0 || off >= size || n <= 0 {
		return
	}
	start := off / m.pageSize * m.pageSize
	end := off + n
	if end > size {
		end = size
	}
	_ = madvise(m.data[start:end], WillNeed)
}

// BytesRead returns the number of bytes copied out of the mapping.
func (m *File) BytesRead() int64 {
	return m.bytesRead.Load()
}

// Close unmaps the file. Later reads return os.ErrClosed.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := munmap(m.data)
	m.data = nil
	return err
}
