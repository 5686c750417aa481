// Package mmap provides memory-mapped file I/O for zero-copy high-performance reading
package mmap

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// Mapping is a shared, read-only memory mapping of a file. Mappings are
// immutable: the mapped bytes are never written through and the underlying
// file must not change while mapped. Concurrent readers need no coordination.
type Mapping struct {
	path     string
	data     []byte
	fileSize int64
	pageSize int
	dev, ino uint64

	refs int
	reg  *registry
}

// registry deduplicates mappings per absolute path so repeated opens of the
// same file share one underlying mapping. Reuse is guarded by the file's
// (device, inode) identity: a path whose file was replaced maps fresh
// instead of returning the stale bytes.
type registry struct {
	mu       sync.Mutex
	mappings map[string]*Mapping
}

var global = &registry{mappings: make(map[string]*Mapping)}

// Open memory-maps the file at path read-only. Opening the same path again
// returns a handle onto the same mapping; the mapping is released when the
// last handle is closed.
func Open(path string) (*Mapping, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return global.open(abs)
}

func (reg *registry) open(abs string) (*Mapping, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	dev, ino := fileID(stat)
	if m, ok := reg.mappings[abs]; ok {
		if m.dev == dev && m.ino == ino {
			m.refs++
			return m, nil
		}
		// The file behind this path was replaced while older handles are
		// still open. Orphan the stale mapping so it drains on its own
		// closes, and map the current file fresh.
		delete(reg.mappings, abs)
	}

	fileSize := stat.Size()
	if fileSize == 0 {
		return nil, fmt.Errorf("file is empty: %s", abs)
	}

	data, err := mmap(int(file.Fd()), 0, int(fileSize), ProtRead, MapShared)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	// Advise kernel about access pattern; non-fatal if unsupported
	_ = madvise(data, MadvSequential)

	m := &Mapping{
		path:     abs,
		data:     data,
		fileSize: fileSize,
		pageSize: os.Getpagesize(),
		dev:      dev,
		ino:      ino,
		refs:     1,
		reg:      reg,
	}
	reg.mappings[abs] = m
	return m, nil
}

// fileID extracts the (device, inode) identity used to detect a replaced
// file behind an already-mapped path.
func fileID(fi os.FileInfo) (uint64, uint64) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev), st.Ino
	}
	return 0, 0
}

// Bytes returns the entire mapped region. The returned slice aliases the
// mapping and is only valid until the last handle is closed.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Len returns the mapped file size in bytes.
func (m *Mapping) Len() int64 {
	return m.fileSize
}

// Path returns the absolute path of the mapped file.
func (m *Mapping) Path() string {
	return m.path
}

// ReadRange returns a zero-copy slice of the mapped region.
func (m *Mapping) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || offset >= m.fileSize {
		return nil, fmt.Errorf("offset %d out of range [0, %d)", offset, m.fileSize)
	}

	end := offset + length
	if end > m.fileSize {
		end = m.fileSize
	}

	return m.data[offset:end], nil
}

// Prefetch advises the kernel to fault in a range of pages ahead of use.
func (m *Mapping) Prefetch(start, end int64) {
	startPage := (start / int64(m.pageSize)) * int64(m.pageSize)
	endPage := ((end + int64(m.pageSize) - 1) / int64(m.pageSize)) * int64(m.pageSize)

	if endPage > m.fileSize {
		endPage = m.fileSize
	}
	if endPage <= startPage {
		return
	}

	_ = madvise(m.data[startPage:endPage], MadvWillneed)
}

// Close releases this handle. The mapping is unmapped when the last handle
// for the path is closed.
func (m *Mapping) Close() error {
	reg := m.reg
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if m.refs <= 0 {
		return fmt.Errorf("mapping already closed: %s", m.path)
	}

	m.refs--
	if m.refs > 0 {
		return nil
	}

	// The registry entry may already belong to a fresh mapping of a
	// replaced file; only remove it if it is still ours.
	if cur, ok := reg.mappings[m.path]; ok && cur == m {
		delete(reg.mappings, m.path)
	}
	data := m.data
	m.data = nil
	return munmap(data)
}
