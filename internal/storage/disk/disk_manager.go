// Package disk implements the raw, page-addressed file I/O that the buffer
// pool manager pulls bytes through. It knows nothing about page contents,
// pin counts, or latches.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PageID identifies a page on disk. It is a signed 32-bit value so that
// InvalidPageID can be a real sentinel distinct from any legitimate page,
// including page 0 (the header page).
type PageID int32

// InvalidPageID marks the absence of a page.
const InvalidPageID PageID = -1

// DefaultPageSize is the fixed page size used throughout the core.
const DefaultPageSize = 4096

var (
	// ErrFileNotOpen is returned by any I/O method called after ShutDown.
	ErrFileNotOpen = errors.New("disk: file not open")
	// ErrBadBufferSize is returned when a caller passes a buffer whose length
	// doesn't match the configured page size.
	ErrBadBufferSize = errors.New("disk: buffer size does not match page size")
)

// Manager implements the disk manager contract consumed by the buffer pool:
// read_page, write_page, allocate_page_id, shut_down. It is the concrete,
// file-backed realization of the external "raw disk manager" collaborator.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	nextPage atomic.Int64
	log      *zap.Logger
}

// Open opens (creating if necessary) a database file at path, sized in units
// of pageSize. If the file already has content, the next allocated page id
// continues from the file's current page count.
func Open(path string, pageSize int, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: opening %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stating %s: %w", path, err)
	}
	m := &Manager{
		file:     f,
		pageSize: pageSize,
		log:      log.Named("disk"),
	}
	m.nextPage.Store(fi.Size() / int64(pageSize))
	return m, nil
}

// ReadPage reads page_id into out, which must be exactly pageSize bytes.
func (m *Manager) ReadPage(id PageID, out []byte) error {
	if len(out) != m.pageSize {
		return ErrBadBufferSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrFileNotOpen
	}
	offset := int64(id) * int64(m.pageSize)
	n, err := m.file.ReadAt(out, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == m.pageSize) {
		return fmt.Errorf("disk: reading page %d: %w", id, err)
	}
	return nil
}

// WritePage writes in (exactly pageSize bytes) to page_id's slot.
func (m *Manager) WritePage(id PageID, in []byte) error {
	if len(in) != m.pageSize {
		return ErrBadBufferSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrFileNotOpen
	}
	offset := int64(id) * int64(m.pageSize)
	if _, err := m.file.WriteAt(in, offset); err != nil {
		return fmt.Errorf("disk: writing page %d: %w", id, err)
	}
	return nil
}

// AllocatePageID hands out the next monotonically increasing page id. It
// does not itself write anything to disk; the page's slot is first written
// when the buffer pool writes the page out (FlushPage, or eviction or
// DeletePage of a dirty page). ReadPage of a slot never written fails.
func (m *Manager) AllocatePageID() PageID {
	return PageID(m.nextPage.Add(1) - 1)
}

// ShutDown flushes and closes the underlying file. Further I/O calls return
// ErrFileNotOpen.
func (m *Manager) ShutDown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Sync()
	closeErr := m.file.Close()
	m.file = nil
	if err != nil {
		return fmt.Errorf("disk: syncing on shutdown: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("disk: closing on shutdown: %w", closeErr)
	}
	m.log.Debug("disk manager shut down")
	return nil
}

// PageSize returns the configured page size.
func (m *Manager) PageSize() int { return m.pageSize }
