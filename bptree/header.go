package bptree

import (
	"encoding/binary"

	"bptreekv/diskmgr"
)

// HeaderPageID is the well-known page id holding the name -> root_page_id
// directory. Page 0 is reserved for it; diskmgr never hands it out via
// AllocatePage.
const HeaderPageID diskmgr.PageID = 0

// HeaderPage is the persistent directory of index name to current root
// page id, stored at HeaderPageID.
type HeaderPage struct {
	names []string
	roots []diskmgr.PageID
}

// NewHeaderPage constructs an empty directory.
func NewHeaderPage() *HeaderPage {
	return &HeaderPage{}
}

func (h *HeaderPage) indexOf(name string) int {
	for i, n := range h.names {
		if n == name {
			return i
		}
	}
	return -1
}

// GetRootID returns the root page id recorded for name, if any.
func (h *HeaderPage) GetRootID(name string) (diskmgr.PageID, bool) {
	i := h.indexOf(name)
	if i < 0 {
		return diskmgr.InvalidPageID, false
	}
	return h.roots[i], true
}

// InsertRecord adds a new name -> rootID record. Returns false if name is
// already present.
func (h *HeaderPage) InsertRecord(name string, rootID diskmgr.PageID) bool {
	if h.indexOf(name) >= 0 {
		return false
	}
	h.names = append(h.names, name)
	h.roots = append(h.roots, rootID)
	return true
}

// UpdateRecord rewrites an existing record's root id. Returns false if name
// is not present.
func (h *HeaderPage) UpdateRecord(name string, rootID diskmgr.PageID) bool {
	i := h.indexOf(name)
	if i < 0 {
		return false
	}
	h.roots[i] = rootID
	return true
}

// DeleteRecord removes name's record. Returns false if it was not present.
func (h *HeaderPage) DeleteRecord(name string) bool {
	i := h.indexOf(name)
	if i < 0 {
		return false
	}
	h.names = append(h.names[:i], h.names[i+1:]...)
	h.roots = append(h.roots[:i], h.roots[i+1:]...)
	return true
}

// Encode serializes the directory into a PageSize buffer.
func (h *HeaderPage) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(h.names)))
	off := 4
	for i, name := range h.names {
		nb := []byte(name)
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(nb)))
		off += 4
		copy(buf[off:off+len(nb)], nb)
		off += len(nb)
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.roots[i]))
		off += 8
	}
}

// DecodeHeaderPage parses a page's raw bytes into a HeaderPage.
func DecodeHeaderPage(buf []byte) *HeaderPage {
	h := &HeaderPage{}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		name := string(buf[off : off+n])
		off += n
		rootID := diskmgr.PageID(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
		h.names = append(h.names, name)
		h.roots = append(h.roots, rootID)
	}
	return h
}
