// Package bptree implements a disk-backed B+ tree index whose pages are
// acquired, mutated, and released exclusively through a bufferpool.Manager.
package bptree

import (
	"encoding/binary"
	"errors"
)

// PageType discriminates the two kinds of tree page sharing a page format.
type PageType int32

const (
	// PageTypeInvalid marks a page that has never been initialized.
	PageTypeInvalid PageType = iota
	PageTypeLeaf
	PageTypeInternal
)

// Comparator orders two keys the same way bytes.Compare does: negative if
// a < b, zero if equal, positive if a > b.
type Comparator func(a, b []byte) int

// commonHeaderSize is the size, in bytes, of the fields shared by every
// tree page: page_type, size, max_size, parent_page_id, page_id.
const commonHeaderSize = 4 + 4 + 4 + 8 + 8

var (
	// ErrWrongPageType is returned when decoding finds a header that does
	// not match the page view being constructed.
	ErrWrongPageType = errors.New("bptree: page has the wrong page type")
	// ErrDuplicateKey is returned by Insert when the key already exists.
	ErrDuplicateKey = errors.New("bptree: duplicate key")
	// ErrKeyNotFound is returned by LeafPage.RemoveAndDeleteRecord when the
	// key is absent. Lookups report a miss as a false found flag instead.
	ErrKeyNotFound = errors.New("bptree: key not found")
)

func readPageType(data []byte) PageType {
	return PageType(int32(binary.LittleEndian.Uint32(data[0:4])))
}
