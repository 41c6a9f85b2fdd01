package bptree

import (
	"encoding/binary"

	"bptreekv/diskmgr"
)

// InternalPage is a strongly-typed view over a sorted array of
// (key, child_page_id) slots. Slot 0's key is never consulted by Lookup —
// child 0 covers everything below keys[1] — but the slot still physically
// holds whatever key arrived there via a split or merge.
type InternalPage struct {
	pageID       diskmgr.PageID
	parentPageID diskmgr.PageID
	maxSize      int32
	keys         [][]byte
	children     []diskmgr.PageID
}

// NewInternalPage constructs an empty, initialized internal view.
func NewInternalPage(pageID, parentPageID diskmgr.PageID, maxSize int32) *InternalPage {
	return &InternalPage{
		pageID:       pageID,
		parentPageID: parentPageID,
		maxSize:      maxSize,
	}
}

func (n *InternalPage) PageID() diskmgr.PageID       { return n.pageID }
func (n *InternalPage) ParentPageID() diskmgr.PageID { return n.parentPageID }
func (n *InternalPage) SetParentPageID(id diskmgr.PageID) {
	n.parentPageID = id
}
func (n *InternalPage) IsRootPage() bool { return n.parentPageID == diskmgr.InvalidPageID }
func (n *InternalPage) Size() int32      { return int32(len(n.keys)) }
func (n *InternalPage) MaxSize() int32   { return n.maxSize }

// MinSize is ceil(max_size/2), the documented choice for internal pages.
func (n *InternalPage) MinSize() int32 { return (n.maxSize + 1) / 2 }

func (n *InternalPage) KeyAt(i int) []byte          { return n.keys[i] }
func (n *InternalPage) ValueAt(i int) diskmgr.PageID { return n.children[i] }

// ValueIndex returns the slot index of childID, or -1 if absent.
func (n *InternalPage) ValueIndex(childID diskmgr.PageID) int {
	for i, c := range n.children {
		if c == childID {
			return i
		}
	}
	return -1
}

// Lookup returns the child covering key: the child at the largest i such
// that keys[i] <= key, searching only slots [1, size). Ties resolve to the
// higher index. If no such slot exists, key is smaller than every separator
// and slot 0's child covers it.
func (n *InternalPage) Lookup(key []byte, cmp Comparator) diskmgr.PageID {
	best := 0
	lo, hi := 1, len(n.keys)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(n.keys[mid], key) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return n.children[best]
}

// InsertNodeAfter inserts (newKey, newChild) immediately after oldChild's
// slot, shifting later slots right.
func (n *InternalPage) InsertNodeAfter(oldChild diskmgr.PageID, newKey []byte, newChild diskmgr.PageID) {
	i := n.ValueIndex(oldChild)
	at := i + 1
	n.keys = append(n.keys, nil)
	n.children = append(n.children, 0)
	copy(n.keys[at+1:], n.keys[at:])
	copy(n.children[at+1:], n.children[at:])
	n.keys[at] = newKey
	n.children[at] = newChild
}

// PopulateNewRoot sets this page's slots to exactly [(-, left), (key, right)].
func (n *InternalPage) PopulateNewRoot(left diskmgr.PageID, key []byte, right diskmgr.PageID) {
	n.keys = [][]byte{nil, key}
	n.children = []diskmgr.PageID{left, right}
}

// Remove deletes childID's slot, shifting later slots left.
func (n *InternalPage) Remove(childID diskmgr.PageID) {
	i := n.ValueIndex(childID)
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i], n.children[i+1:]...)
}

// SetKeyAt overwrites the key at slot i, used to rewrite a parent's
// separator after a redistribution.
func (n *InternalPage) SetKeyAt(i int, key []byte) { n.keys[i] = key }

// MoveHalfTo moves the upper half of this page's slots to sibling, which
// must be empty, for a split. The moved-child parent ids are NOT fixed up
// here; callers must reparent every child reported by MovedChildren to
// sibling.PageID() afterward. The separator for the parent is
// sibling.KeyAt(0), which retains the key that separated the last slot kept
// here from the first slot moved.
func (n *InternalPage) MoveHalfTo(sibling *InternalPage) (movedChildren []diskmgr.PageID) {
	mid := len(n.keys) / 2
	sibling.keys = append(sibling.keys, n.keys[mid:]...)
	sibling.children = append(sibling.children, n.children[mid:]...)
	movedChildren = append(movedChildren, n.children[mid:]...)
	n.keys = n.keys[:mid]
	n.children = n.children[:mid]
	return movedChildren
}

// MoveAllTo appends every slot of this page onto the end of dest, used when
// coalescing this page (the right one of the pair, whichever of the two
// underflowed) into its left sibling.
// separatorFromParent is the parent's separator key above this page, which
// becomes the key for this page's first (slot-0, normally-unused) child
// once it lands in dest.
func (n *InternalPage) MoveAllTo(dest *InternalPage, separatorFromParent []byte) (movedChildren []diskmgr.PageID) {
	if len(n.keys) > 0 {
		n.keys[0] = separatorFromParent
	}
	dest.keys = append(dest.keys, n.keys...)
	dest.children = append(dest.children, n.children...)
	movedChildren = append(movedChildren, n.children...)
	n.keys = nil
	n.children = nil
	return movedChildren
}

// MoveFirstToEndOf moves this page's first slot onto the end of dest, used
// when redistributing from a right sibling. separatorFromParent is the
// parent's current separator above this page; it becomes dest's key for the
// moved child. This page's former slot-1 key becomes its new slot-0 key,
// which the caller lifts into the parent as the new separator.
func (n *InternalPage) MoveFirstToEndOf(dest *InternalPage, separatorFromParent []byte) (movedChild diskmgr.PageID) {
	movedChild = n.children[0]
	dest.keys = append(dest.keys, separatorFromParent)
	dest.children = append(dest.children, movedChild)
	n.keys = n.keys[1:]
	n.children = n.children[1:]
	return movedChild
}

// MoveLastToFrontOf moves this page's last slot onto the front of dest,
// used when redistributing from a left sibling. separatorFromParent is the
// parent's current separator above dest; it becomes dest's new slot-1 key,
// the real separator between the moved child (now dest's slot 0) and
// dest's former slot-0 child (now slot 1) — dest's slot 0 stays the unused
// placeholder it already was, just shifted down with everything else. The
// moved key, n's own last key before the move, becomes the parent's new
// separator (returned).
func (n *InternalPage) MoveLastToFrontOf(dest *InternalPage, separatorFromParent []byte) (movedChild diskmgr.PageID, newSeparator []byte) {
	last := len(n.keys) - 1
	movedChild = n.children[last]
	newSeparator = n.keys[last]

	dest.children = append([]diskmgr.PageID{movedChild}, dest.children...)
	keys := make([][]byte, 0, len(dest.keys)+1)
	keys = append(keys, dest.keys[0])
	keys = append(keys, separatorFromParent)
	keys = append(keys, dest.keys[1:]...)
	dest.keys = keys

	n.keys = n.keys[:last]
	n.children = n.children[:last]
	return movedChild, newSeparator
}

// Encode serializes the page into a PageSize buffer.
func (n *InternalPage) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(PageTypeInternal))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n.Size()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.maxSize))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(n.parentPageID))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(n.pageID))

	off := commonHeaderSize
	for i := range n.keys {
		key := n.keys[i]
		if key == nil {
			key = []byte{}
		}
		off = putSlot(buf, off, key)
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.children[i]))
		off += 8
	}
}

// DecodeInternalPage parses a page's raw bytes into an InternalPage view.
func DecodeInternalPage(buf []byte) (*InternalPage, error) {
	if readPageType(buf) != PageTypeInternal {
		return nil, ErrWrongPageType
	}
	size := int32(binary.LittleEndian.Uint32(buf[4:8]))
	n := &InternalPage{
		maxSize:      int32(binary.LittleEndian.Uint32(buf[8:12])),
		parentPageID: diskmgr.PageID(binary.LittleEndian.Uint64(buf[12:20])),
		pageID:       diskmgr.PageID(binary.LittleEndian.Uint64(buf[20:28])),
	}

	off := commonHeaderSize
	for i := int32(0); i < size; i++ {
		var key []byte
		key, off = getSlot(buf, off)
		if len(key) == 0 {
			key = nil
		}
		child := diskmgr.PageID(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}
	return n, nil
}
