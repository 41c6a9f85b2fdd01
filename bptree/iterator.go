package bptree

import "bptreekv/diskmgr"

// Iterator walks a tree's leaves left to right in key order. The current
// leaf, if any, is held pinned; Close (or reaching End) releases it.
type Iterator struct {
	idx    *Index
	pageID diskmgr.PageID
	leaf   *LeafPage
	index  int
}

// Begin returns an iterator positioned at the first entry of the tree.
func (idx *Index) Begin() (*Iterator, error) {
	it := &Iterator{idx: idx, pageID: diskmgr.InvalidPageID}
	if idx.IsEmpty() {
		return it, nil
	}

	_, leaf, err := idx.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	it.pageID = leaf.PageID()
	it.leaf = leaf
	it.index = 0
	it.skipEmptyLeaves()
	return it, nil
}

// BeginAt returns an iterator positioned at the first entry whose key is
// >= key.
func (idx *Index) BeginAt(key []byte) (*Iterator, error) {
	it := &Iterator{idx: idx, pageID: diskmgr.InvalidPageID}
	if idx.IsEmpty() {
		return it, nil
	}

	_, leaf, err := idx.findLeafPage(key)
	if err != nil {
		return nil, err
	}

	// findLeafPage returns its page pinned; the iterator owns that pin for
	// its lifetime, same as Begin() does with leftmostLeaf(), and releases
	// it via skipEmptyLeaves/Close.
	it.pageID = leaf.PageID()
	it.leaf = leaf
	it.index = leaf.KeyIndex(key, idx.cmp)
	it.skipEmptyLeaves()
	return it, nil
}

// IsEnd reports whether the iterator has advanced past the last entry.
func (it *Iterator) IsEnd() bool {
	return it.pageID == diskmgr.InvalidPageID
}

// Key returns the current entry's key. Must not be called when IsEnd.
func (it *Iterator) Key() []byte { return it.leaf.KeyAt(it.index) }

// Value returns the current entry's value. Must not be called when IsEnd.
func (it *Iterator) Value() []byte {
	_, v := it.leaf.GetItem(it.index)
	return v
}

// Next advances the iterator by one entry.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	it.index++
	return it.skipEmptyLeaves()
}

// skipEmptyLeaves advances to the next leaf (possibly repeatedly, though a
// leaf only becomes fully empty at the tree's very last entries) whenever
// the index has run past the current leaf's slots.
func (it *Iterator) skipEmptyLeaves() error {
	for !it.IsEnd() && int(it.leaf.Size()) <= it.index {
		next := it.leaf.NextPageID()
		it.idx.pool.UnpinPage(it.pageID, false)
		it.pageID = next
		it.index = 0
		if it.IsEnd() {
			it.leaf = nil
			return nil
		}
		_, leaf, err := it.idx.fetchLeaf(it.pageID)
		if err != nil {
			return err
		}
		it.leaf = leaf
	}
	return nil
}

// Close releases the currently pinned leaf, if any. Safe to call multiple
// times or on an already-ended iterator.
func (it *Iterator) Close() error {
	if it.IsEnd() {
		return nil
	}
	err := it.idx.pool.UnpinPage(it.pageID, false)
	it.pageID = diskmgr.InvalidPageID
	it.leaf = nil
	return err
}
