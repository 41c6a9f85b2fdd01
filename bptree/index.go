package bptree

import (
	"fmt"

	"bptreekv/bufferpool"
	"bptreekv/diskmgr"

	"github.com/sirupsen/logrus"
)

// Index is a disk-backed B+ tree. Every page it touches is fetched from
// and released back to a bufferpool.Manager; the index itself holds no
// page bytes between calls.
type Index struct {
	name            string
	pool            *bufferpool.Manager
	cmp             Comparator
	leafMaxSize     int32
	internalMaxSize int32
	rootPageID      diskmgr.PageID
	log             *logrus.Logger
}

// OpenIndex reads the named index's root-id record from the header page and
// returns an Index bound to it. If the header has no record for name, the
// index starts empty; the record is written by the first Insert.
func OpenIndex(name string, pool *bufferpool.Manager, cmp Comparator, leafMaxSize, internalMaxSize int32, log *logrus.Logger) (*Index, error) {
	if log == nil {
		log = logrus.New()
	}
	idx := &Index{
		name:            name,
		pool:            pool,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      diskmgr.InvalidPageID,
		log:             log,
	}

	headerPage, err := pool.FetchPage(HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("bptree: open index %q: %w", name, err)
	}
	headerPage.RLock()
	header := DecodeHeaderPage(headerPage.Data())
	headerPage.RUnlock()
	pool.UnpinPage(HeaderPageID, false)

	if rootID, ok := header.GetRootID(name); ok {
		idx.rootPageID = rootID
	}
	return idx, nil
}

// IsEmpty reports whether the tree currently holds no entries.
func (idx *Index) IsEmpty() bool {
	return idx.rootPageID == diskmgr.InvalidPageID
}

// GetValue returns the value stored for key, and whether it was found.
func (idx *Index) GetValue(key []byte) ([]byte, bool, error) {
	if idx.IsEmpty() {
		return nil, false, nil
	}

	leafPage, leaf, err := idx.findLeafPage(key)
	if err != nil {
		return nil, false, err
	}
	value, found := leaf.Lookup(key, idx.cmp)
	idx.pool.UnpinPage(leafPage.ID(), false)
	return value, found, nil
}

// Insert adds (key, value). Returns ErrDuplicateKey if key is already
// present; the tree is left unchanged in that case.
func (idx *Index) Insert(key, value []byte) error {
	if idx.IsEmpty() {
		return idx.startNewTree(key, value)
	}

	leafPage, leaf, err := idx.findLeafPage(key)
	if err != nil {
		return err
	}

	if err := leaf.Insert(key, value, idx.cmp); err != nil {
		idx.pool.UnpinPage(leafPage.ID(), false)
		return err
	}

	if leaf.Size() > idx.leafMaxSize {
		sibling, sepKey, err := idx.splitLeaf(leaf)
		if err != nil {
			idx.writeLeaf(leafPage, leaf)
			idx.pool.UnpinPage(leafPage.ID(), true)
			return err
		}
		idx.writeLeaf(leafPage, leaf)
		idx.pool.UnpinPage(leafPage.ID(), true)
		return idx.insertIntoParent(leaf.PageID(), leaf.ParentPageID(), sepKey, sibling.PageID())
	}

	idx.writeLeaf(leafPage, leaf)
	idx.pool.UnpinPage(leafPage.ID(), true)
	return nil
}

func (idx *Index) startNewTree(key, value []byte) error {
	rootPage, err := idx.pool.NewPage()
	if err != nil {
		return fmt.Errorf("bptree: start new tree: %w", err)
	}

	leaf := NewLeafPage(rootPage.ID(), diskmgr.InvalidPageID, idx.leafMaxSize)
	if err := leaf.Insert(key, value, idx.cmp); err != nil {
		idx.pool.UnpinPage(rootPage.ID(), false)
		return err
	}

	idx.rootPageID = rootPage.ID()
	idx.writeLeaf(rootPage, leaf)
	idx.pool.UnpinPage(rootPage.ID(), true)

	return idx.updateRootPageID(true)
}

// splitLeaf allocates a new right sibling, moves the upper half of leaf's
// slots into it, and threads the leaf chain pointer. Returns the sibling
// and the separator key for the parent.
func (idx *Index) splitLeaf(leaf *LeafPage) (*LeafPage, []byte, error) {
	siblingPage, err := idx.pool.NewPage()
	if err != nil {
		return nil, nil, fmt.Errorf("bptree: split leaf: %w", err)
	}
	sibling := NewLeafPage(siblingPage.ID(), leaf.ParentPageID(), idx.leafMaxSize)

	leaf.MoveHalfTo(sibling)
	sibling.SetNextPageID(leaf.NextPageID())
	leaf.SetNextPageID(sibling.PageID())

	sepKey := sibling.KeyAt(0)
	idx.writeLeaf(siblingPage, sibling)
	idx.pool.UnpinPage(siblingPage.ID(), true)
	return sibling, sepKey, nil
}

// insertIntoParent wires a newly split right sibling into old's parent,
// creating a new root if old had none, recursively splitting the parent if
// it overflows.
func (idx *Index) insertIntoParent(oldID, parentID diskmgr.PageID, sepKey []byte, newID diskmgr.PageID) error {
	if parentID == diskmgr.InvalidPageID {
		rootPage, err := idx.pool.NewPage()
		if err != nil {
			return fmt.Errorf("bptree: insert into parent: new root: %w", err)
		}
		newRoot := NewInternalPage(rootPage.ID(), diskmgr.InvalidPageID, idx.internalMaxSize)
		newRoot.PopulateNewRoot(oldID, sepKey, newID)

		if err := idx.setParentPageID(oldID, rootPage.ID()); err != nil {
			idx.pool.UnpinPage(rootPage.ID(), false)
			return err
		}
		if err := idx.setParentPageID(newID, rootPage.ID()); err != nil {
			idx.pool.UnpinPage(rootPage.ID(), false)
			return err
		}

		idx.rootPageID = rootPage.ID()
		idx.writeInternal(rootPage, newRoot)
		idx.pool.UnpinPage(rootPage.ID(), true)
		return idx.updateRootPageID(false)
	}

	parentPage, err := idx.pool.FetchPage(parentID)
	if err != nil {
		return fmt.Errorf("bptree: insert into parent: fetch %d: %w", parentID, err)
	}
	parentPage.Lock()
	parent, err := DecodeInternalPage(parentPage.Data())
	parentPage.Unlock()
	if err != nil {
		idx.pool.UnpinPage(parentID, false)
		return err
	}

	parent.InsertNodeAfter(oldID, sepKey, newID)
	if err := idx.setParentPageID(newID, parentID); err != nil {
		idx.writeInternal(parentPage, parent)
		idx.pool.UnpinPage(parentID, true)
		return err
	}

	if parent.Size() > idx.internalMaxSize {
		sibling, newSepKey, moved, err := idx.splitInternal(parent)
		if err != nil {
			idx.writeInternal(parentPage, parent)
			idx.pool.UnpinPage(parentID, true)
			return err
		}
		idx.writeInternal(parentPage, parent)
		idx.pool.UnpinPage(parentID, true)
		if err := idx.reparentAll(moved, sibling.PageID()); err != nil {
			return err
		}
		return idx.insertIntoParent(parent.PageID(), parent.ParentPageID(), newSepKey, sibling.PageID())
	}

	idx.writeInternal(parentPage, parent)
	idx.pool.UnpinPage(parentID, true)
	return nil
}

func (idx *Index) splitInternal(node *InternalPage) (*InternalPage, []byte, []diskmgr.PageID, error) {
	siblingPage, err := idx.pool.NewPage()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bptree: split internal: %w", err)
	}
	sibling := NewInternalPage(siblingPage.ID(), node.ParentPageID(), idx.internalMaxSize)

	moved := node.MoveHalfTo(sibling)
	sepKey := sibling.KeyAt(0)

	idx.writeInternal(siblingPage, sibling)
	idx.pool.UnpinPage(siblingPage.ID(), true)
	return sibling, sepKey, moved, nil
}

// reparentAll fetches each child in ids and sets its parent_page_id to
// newParent, marking the page dirty.
func (idx *Index) reparentAll(ids []diskmgr.PageID, newParent diskmgr.PageID) error {
	for _, id := range ids {
		if err := idx.setParentPageID(id, newParent); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) setParentPageID(id, newParent diskmgr.PageID) error {
	page, err := idx.pool.FetchPage(id)
	if err != nil {
		return fmt.Errorf("bptree: reparent %d: %w", id, err)
	}
	page.Lock()
	switch readPageType(page.Data()) {
	case PageTypeLeaf:
		leaf, err := DecodeLeafPage(page.Data())
		if err != nil {
			page.Unlock()
			idx.pool.UnpinPage(id, false)
			return err
		}
		leaf.SetParentPageID(newParent)
		leaf.Encode(page.Data())
	case PageTypeInternal:
		node, err := DecodeInternalPage(page.Data())
		if err != nil {
			page.Unlock()
			idx.pool.UnpinPage(id, false)
			return err
		}
		node.SetParentPageID(newParent)
		node.Encode(page.Data())
	}
	page.Unlock()
	return idx.pool.UnpinPage(id, true)
}

// Remove deletes key. A no-op if the tree is empty or key is absent.
func (idx *Index) Remove(key []byte) error {
	if idx.IsEmpty() {
		return nil
	}

	leafPage, leaf, err := idx.findLeafPage(key)
	if err != nil {
		return err
	}

	if err := leaf.RemoveAndDeleteRecord(key, idx.cmp); err != nil {
		idx.pool.UnpinPage(leafPage.ID(), false)
		if err == ErrKeyNotFound {
			return nil
		}
		return err
	}

	idx.writeLeaf(leafPage, leaf)
	idx.pool.UnpinPage(leafPage.ID(), true)

	if leaf.Size() < leaf.MinSize() && !leaf.IsRootPage() {
		return idx.coalesceOrRedistributeLeaf(leaf.PageID())
	}
	if leaf.IsRootPage() && leaf.Size() == 0 {
		return idx.adjustRootLeaf(leaf.PageID())
	}
	return nil
}

// findLeafPage descends from root to the leaf covering key, returning the
// pinned page and its decoded view. Caller must unpin leafPage.ID().
func (idx *Index) findLeafPage(key []byte) (*bufferpool.Page, *LeafPage, error) {
	pageID := idx.rootPageID
	for {
		page, err := idx.pool.FetchPage(pageID)
		if err != nil {
			return nil, nil, fmt.Errorf("bptree: find leaf: fetch %d: %w", pageID, err)
		}
		page.RLock()
		pt := readPageType(page.Data())
		if pt == PageTypeLeaf {
			leaf, err := DecodeLeafPage(page.Data())
			page.RUnlock()
			if err != nil {
				idx.pool.UnpinPage(pageID, false)
				return nil, nil, err
			}
			return page, leaf, nil
		}
		node, err := DecodeInternalPage(page.Data())
		page.RUnlock()
		if err != nil {
			idx.pool.UnpinPage(pageID, false)
			return nil, nil, err
		}
		child := node.Lookup(key, idx.cmp)
		idx.pool.UnpinPage(pageID, false)
		pageID = child
	}
}

// leftmostLeaf descends via child 0 at every level, used by the iterator's
// Begin().
func (idx *Index) leftmostLeaf() (*bufferpool.Page, *LeafPage, error) {
	pageID := idx.rootPageID
	for {
		page, err := idx.pool.FetchPage(pageID)
		if err != nil {
			return nil, nil, fmt.Errorf("bptree: leftmost leaf: fetch %d: %w", pageID, err)
		}
		page.RLock()
		pt := readPageType(page.Data())
		if pt == PageTypeLeaf {
			leaf, err := DecodeLeafPage(page.Data())
			page.RUnlock()
			if err != nil {
				idx.pool.UnpinPage(pageID, false)
				return nil, nil, err
			}
			return page, leaf, nil
		}
		node, err := DecodeInternalPage(page.Data())
		page.RUnlock()
		if err != nil {
			idx.pool.UnpinPage(pageID, false)
			return nil, nil, err
		}
		idx.pool.UnpinPage(pageID, false)
		pageID = node.ValueAt(0)
	}
}

func (idx *Index) fetchLeaf(id diskmgr.PageID) (*bufferpool.Page, *LeafPage, error) {
	page, err := idx.pool.FetchPage(id)
	if err != nil {
		return nil, nil, fmt.Errorf("bptree: fetch leaf %d: %w", id, err)
	}
	page.RLock()
	leaf, err := DecodeLeafPage(page.Data())
	page.RUnlock()
	if err != nil {
		idx.pool.UnpinPage(id, false)
		return nil, nil, err
	}
	return page, leaf, nil
}

func (idx *Index) fetchInternal(id diskmgr.PageID) (*bufferpool.Page, *InternalPage, error) {
	page, err := idx.pool.FetchPage(id)
	if err != nil {
		return nil, nil, fmt.Errorf("bptree: fetch internal %d: %w", id, err)
	}
	page.RLock()
	node, err := DecodeInternalPage(page.Data())
	page.RUnlock()
	if err != nil {
		idx.pool.UnpinPage(id, false)
		return nil, nil, err
	}
	return page, node, nil
}

func (idx *Index) writeLeaf(page *bufferpool.Page, leaf *LeafPage) {
	page.Lock()
	leaf.Encode(page.Data())
	page.Unlock()
}

func (idx *Index) writeInternal(page *bufferpool.Page, node *InternalPage) {
	page.Lock()
	node.Encode(page.Data())
	page.Unlock()
}

// updateRootPageID persists idx.rootPageID into the header page.
func (idx *Index) updateRootPageID(insert bool) error {
	headerPage, err := idx.pool.FetchPage(HeaderPageID)
	if err != nil {
		return fmt.Errorf("bptree: update root page id: %w", err)
	}
	headerPage.Lock()
	header := DecodeHeaderPage(headerPage.Data())
	if insert {
		if !header.InsertRecord(idx.name, idx.rootPageID) {
			// A tree emptied by Remove keeps its record; overwrite it.
			header.UpdateRecord(idx.name, idx.rootPageID)
		}
	} else {
		header.UpdateRecord(idx.name, idx.rootPageID)
	}
	header.Encode(headerPage.Data())
	headerPage.Unlock()
	return idx.pool.UnpinPage(HeaderPageID, true)
}
