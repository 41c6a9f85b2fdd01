// Package bufferpool implements a fixed-size pool of page frames backed by
// disk storage, with LRU replacement for frames that have no pins left.
//
// Every page mutation in this kernel goes through FetchPage/UnpinPage: a
// caller fetches a page (pinning it so it cannot be evicted out from under
// them), mutates Page.Data() while holding the page's own lock, marks it
// dirty on unpin if it was modified, and unpins it. The pool only ever
// writes a page back to disk when it is evicted to make room for another
// page, or when the caller explicitly asks via FlushPage/FlushAllPages.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"bptreekv/diskmgr"
	"bptreekv/replacer"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoFreeFrames is returned by FetchPage/NewPage when every frame in
	// the pool is pinned and none can be evicted.
	ErrNoFreeFrames = errors.New("bufferpool: no free frames available")
	// ErrPagePinned is returned by DeletePage when the page is still pinned.
	ErrPagePinned = errors.New("bufferpool: page is pinned")
)

// DiskManager is the subset of diskmgr.Manager the pool depends on. It is
// an interface so tests can substitute an in-memory fake.
type DiskManager interface {
	ReadPage(id diskmgr.PageID) ([]byte, error)
	WritePage(id diskmgr.PageID, data []byte) error
	AllocatePage() (diskmgr.PageID, error)
	DeallocatePage(id diskmgr.PageID) error
}

// Manager is the buffer pool manager: it owns a fixed array of frames and
// mediates every disk access through them.
type Manager struct {
	mu sync.Mutex

	disk     DiskManager
	replacer *replacer.LRUReplacer
	log      *logrus.Logger

	frames    []*Page
	freeList  []FrameID
	pageTable map[diskmgr.PageID]FrameID
}

// NewManager creates a pool with poolSize frames backed by disk. log may be
// nil, in which case a logger with output discarded is used.
func NewManager(poolSize int, disk DiskManager, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
		log.SetOutput(discardWriter{})
	}

	frames := make([]*Page, poolSize)
	freeList := make([]FrameID, poolSize)
	for i := range frames {
		frames[i] = &Page{}
		freeList[i] = FrameID(i)
	}

	return &Manager{
		disk:      disk,
		replacer:  replacer.NewLRUReplacer(poolSize),
		log:       log,
		frames:    frames,
		freeList:  freeList,
		pageTable: make(map[diskmgr.PageID]FrameID, poolSize),
	}
}

// FetchPage returns the page with the given id, pinned. If the page is
// already cached, its pin count is incremented and it is returned without
// being marked dirty and without touching disk — a cache hit never implies
// a modification. If the page is not cached, a frame is obtained (from the
// free list first, then by evicting the LRU unpinned frame, writing it back
// to disk first if it is dirty) and the page is read in from disk.
func (m *Manager) FetchPage(id diskmgr.PageID) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[id]; ok {
		p := m.frames[frameID]
		p.pinCount++
		m.replacer.Pin(replacer.FrameID(frameID))
		m.log.WithFields(logrus.Fields{"page_id": id, "frame_id": frameID}).Debug("bufferpool: fetch hit")
		return p, nil
	}

	frameID, err := m.obtainFrame()
	if err != nil {
		return nil, err
	}

	p := m.frames[frameID]
	data, err := m.disk.ReadPage(id)
	if err != nil {
		m.freeList = append(m.freeList, frameID)
		return nil, fmt.Errorf("bufferpool: fetch page %d: %w", id, err)
	}

	p.reset(id)
	copy(p.data[:], data)
	p.pinCount = 1
	m.pageTable[id] = frameID
	m.replacer.Pin(replacer.FrameID(frameID))
	m.log.WithFields(logrus.Fields{"page_id": id, "frame_id": frameID}).Debug("bufferpool: fetch miss")
	return p, nil
}

// NewPage allocates a fresh page on disk, loads it into a frame pinned with
// count 1, and returns it. Returns ErrNoFreeFrames if every frame is
// currently pinned.
func (m *Manager) NewPage() (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allPinned := true
	for _, p := range m.frames {
		if p.pinCount == 0 {
			allPinned = false
			break
		}
	}
	if allPinned {
		return nil, ErrNoFreeFrames
	}

	id, err := m.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("bufferpool: new page: %w", err)
	}

	frameID, err := m.obtainFrame()
	if err != nil {
		return nil, err
	}

	p := m.frames[frameID]
	p.reset(id)
	p.pinCount = 1
	m.pageTable[id] = frameID
	m.replacer.Pin(replacer.FrameID(frameID))
	m.log.WithFields(logrus.Fields{"page_id": id, "frame_id": frameID}).Debug("bufferpool: new page")
	return p, nil
}

// UnpinPage decrements the pin count of the page with the given id. isDirty
// is OR'd into the page's dirty flag — it never clears it. When the pin
// count reaches zero the frame becomes eligible for eviction, but nothing
// is written to disk at that point; write-back happens only on eviction or
// an explicit Flush call.
func (m *Manager) UnpinPage(id diskmgr.PageID, isDirty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return fmt.Errorf("bufferpool: unpin page %d: not in pool", id)
	}

	p := m.frames[frameID]
	if p.pinCount == 0 {
		return fmt.Errorf("bufferpool: unpin page %d: pin count already zero", id)
	}

	p.pinCount--
	if isDirty {
		p.isDirty = true
	}
	if p.pinCount == 0 {
		m.replacer.Unpin(replacer.FrameID(frameID))
	}
	return nil
}

// FlushPage writes the page with the given id to disk if it is dirty, and
// clears the dirty flag. It does not require the page to be unpinned.
// Returns an error if id is not currently resident in the pool.
func (m *Manager) FlushPage(id diskmgr.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(id)
}

// FlushAllPages flushes every page currently resident in the pool.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.pageTable {
		if err := m.flushLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes the page from the pool and returns its id to the disk
// manager's free list. Returns ErrPagePinned if the page is still pinned by
// someone. A page not currently resident has nothing to evict from the
// pool, but its id is still returned to the disk manager.
func (m *Manager) DeletePage(id diskmgr.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return m.disk.DeallocatePage(id)
	}

	p := m.frames[frameID]
	if p.pinCount != 0 {
		return ErrPagePinned
	}

	delete(m.pageTable, id)
	m.replacer.Pin(replacer.FrameID(frameID)) // remove from eligible set, if present
	p.reset(diskmgr.InvalidPageID)
	m.freeList = append(m.freeList, frameID)

	return m.disk.DeallocatePage(id)
}

func (m *Manager) flushLocked(id diskmgr.PageID) error {
	frameID, ok := m.pageTable[id]
	if !ok {
		return fmt.Errorf("bufferpool: flush page %d: not in pool", id)
	}
	p := m.frames[frameID]
	if !p.isDirty {
		return nil
	}
	if err := m.disk.WritePage(id, p.data[:]); err != nil {
		return fmt.Errorf("bufferpool: flush page %d: %w", id, err)
	}
	p.isDirty = false
	return nil
}

// obtainFrame returns a frame id ready to host a new page: from the free
// list if one is available, otherwise by evicting the replacer's victim
// (flushing it first if dirty). Caller must hold m.mu.
func (m *Manager) obtainFrame() (FrameID, error) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, nil
	}

	var victim replacer.FrameID
	if !m.replacer.Victim(&victim) {
		return 0, ErrNoFreeFrames
	}

	frameID := FrameID(victim)
	p := m.frames[frameID]
	if p.isDirty {
		if err := m.disk.WritePage(p.id, p.data[:]); err != nil {
			return 0, fmt.Errorf("bufferpool: evict page %d: %w", p.id, err)
		}
	}
	m.log.WithFields(logrus.Fields{"page_id": p.id, "frame_id": frameID}).Debug("bufferpool: evict")
	delete(m.pageTable, p.id)
	return frameID, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
