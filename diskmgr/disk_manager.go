// Package diskmgr persists fixed-size pages to a single backing file. It
// knows nothing about page contents — the buffer pool and B+ tree layers
// are the only callers, and they treat every page as an opaque byte slice.
package diskmgr

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// PageID identifies a page within the backing file. Page 0 is reserved for
// the tree's header page and is never handed out by AllocatePage.
type PageID int64

// InvalidPageID is returned by callers that need to signal "no page".
const InvalidPageID PageID = -1

// PageSize is the fixed size, in bytes, of every page this package reads
// and writes. The B+ tree page layouts fill exactly this many bytes.
const PageSize = 4096

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("diskmgr: manager is closed")
	// ErrBadPageSize is returned when WritePage is given the wrong length.
	ErrBadPageSize = errors.New("diskmgr: data does not match page size")
)

// Manager reads and writes fixed-size pages in a single growable file. It
// reuses page ids freed by DeallocatePage before handing out new ones, so a
// long-running tree with churn does not grow its file without bound.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextPage PageID
	freeIDs  []PageID
}

// Open opens (creating if necessary) the file at path as a page store.
// Page 0 is reserved and is never returned by AllocatePage; a freshly
// created file starts handing out ids from 1.
func Open(path string) (*Manager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}

	numPages := PageID(stat.Size() / PageSize)
	next := numPages
	if next < 1 {
		next = 1
	}

	// Page 0 is reserved for the header page and is never handed out by
	// AllocatePage; reserve its bytes immediately so ReadPage(0) always
	// succeeds, even before any other page has been allocated.
	if stat.Size() == 0 {
		if _, err := file.WriteAt(make([]byte, PageSize), 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("diskmgr: reserve header page: %w", err)
		}
	}

	return &Manager{
		file:     file,
		path:     path,
		nextPage: next,
	}, nil
}

// ReadPage reads the page at id into a freshly allocated PageSize buffer.
func (m *Manager) ReadPage(id PageID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil, ErrClosed
	}

	buf := make([]byte, PageSize)
	offset := int64(id) * PageSize
	n, err := m.file.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("diskmgr: read page %d: %w", id, err)
	}
	return buf, nil
}

// WritePage writes data, which must be exactly PageSize bytes, to the page
// at id.
func (m *Manager) WritePage(id PageID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return ErrClosed
	}
	if len(data) != PageSize {
		return fmt.Errorf("diskmgr: write page %d: %w", id, ErrBadPageSize)
	}

	offset := int64(id) * PageSize
	if _, err := m.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("diskmgr: write page %d: %w", id, err)
	}
	return nil
}

// AllocatePage reserves a new page id, preferring an id most recently freed
// by DeallocatePage, and zero-fills it on disk.
func (m *Manager) AllocatePage() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return InvalidPageID, ErrClosed
	}

	var id PageID
	if n := len(m.freeIDs); n > 0 {
		id = m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
	} else {
		id = m.nextPage
		m.nextPage++
	}

	zero := make([]byte, PageSize)
	offset := int64(id) * PageSize
	if _, err := m.file.WriteAt(zero, offset); err != nil {
		return InvalidPageID, fmt.Errorf("diskmgr: allocate page %d: %w", id, err)
	}
	return id, nil
}

// DeallocatePage returns id to the free list so a future AllocatePage call
// may reuse it.
func (m *Manager) DeallocatePage(id PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return ErrClosed
	}
	m.freeIDs = append(m.freeIDs, id)
	return nil
}

// Sync flushes pending writes to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return ErrClosed
	}
	return m.file.Sync()
}

// Close syncs and closes the backing file. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		m.file.Close()
		m.file = nil
		return fmt.Errorf("diskmgr: sync before close: %w", err)
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// TotalPages reports the number of pages the file spans: the reserved header
// page 0 plus every id handed out so far, including ones currently on the
// free list. It is also the next fresh id AllocatePage would mint.
func (m *Manager) TotalPages() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.nextPage)
}
