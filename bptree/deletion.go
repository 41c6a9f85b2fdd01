package bptree

import (
	"fmt"

	"bptreekv/diskmgr"
)

// coalesceOrRedistributeLeaf implements CoalesceOrRedistribute for a leaf
// that has underflowed. leafID must not be pinned by the caller.
func (idx *Index) coalesceOrRedistributeLeaf(leafID diskmgr.PageID) error {
	leafPage, leaf, err := idx.fetchLeaf(leafID)
	if err != nil {
		return err
	}

	parentID := leaf.ParentPageID()
	parentPage, parent, err := idx.fetchInternal(parentID)
	if err != nil {
		idx.pool.UnpinPage(leafID, false)
		return err
	}

	myIdx := parent.ValueIndex(leafID)
	preferLeft := myIdx != 0
	var siblingID diskmgr.PageID
	var sepIdx int
	if preferLeft {
		siblingID = parent.ValueAt(myIdx - 1)
		sepIdx = myIdx
	} else {
		siblingID = parent.ValueAt(myIdx + 1)
		sepIdx = myIdx + 1
	}

	siblingPage, sibling, err := idx.fetchLeaf(siblingID)
	if err != nil {
		idx.pool.UnpinPage(parentID, false)
		idx.pool.UnpinPage(leafID, false)
		return err
	}

	if sibling.Size()+leaf.Size() <= leaf.MaxSize() {
		// Coalesce: the left page always survives.
		if preferLeft {
			leaf.MoveAllTo(sibling)
			idx.writeLeaf(siblingPage, sibling)
			idx.pool.UnpinPage(siblingID, true)
			idx.pool.UnpinPage(leafID, false)
			if err := idx.pool.DeletePage(leafID); err != nil {
				return fmt.Errorf("bptree: coalesce leaf: delete %d: %w", leafID, err)
			}
			parent.Remove(leafID)
		} else {
			sibling.MoveAllTo(leaf)
			idx.writeLeaf(leafPage, leaf)
			idx.pool.UnpinPage(leafID, true)
			idx.pool.UnpinPage(siblingID, false)
			if err := idx.pool.DeletePage(siblingID); err != nil {
				return fmt.Errorf("bptree: coalesce leaf: delete %d: %w", siblingID, err)
			}
			parent.Remove(siblingID)
		}

		idx.writeInternal(parentPage, parent)
		idx.pool.UnpinPage(parentID, true)

		if parent.IsRootPage() {
			return idx.adjustRootInternal(parentID)
		}
		if parent.Size() < parent.MinSize() {
			return idx.coalesceOrRedistributeInternal(parentID)
		}
		return nil
	}

	// Redistribute: borrow one slot across the separator.
	if preferLeft {
		sibling.MoveLastToFrontOf(leaf)
		parent.SetKeyAt(sepIdx, leaf.KeyAt(0))
	} else {
		sibling.MoveFirstToEndOf(leaf)
		parent.SetKeyAt(sepIdx, sibling.KeyAt(0))
	}

	idx.writeLeaf(leafPage, leaf)
	idx.pool.UnpinPage(leafID, true)
	idx.writeLeaf(siblingPage, sibling)
	idx.pool.UnpinPage(siblingID, true)
	idx.writeInternal(parentPage, parent)
	idx.pool.UnpinPage(parentID, true)
	return nil
}

// coalesceOrRedistributeInternal implements CoalesceOrRedistribute for an
// internal page that has underflowed after a child was removed from it.
func (idx *Index) coalesceOrRedistributeInternal(nodeID diskmgr.PageID) error {
	nodePage, node, err := idx.fetchInternal(nodeID)
	if err != nil {
		return err
	}

	if node.IsRootPage() {
		idx.pool.UnpinPage(nodeID, false)
		return idx.adjustRootInternal(nodeID)
	}

	parentID := node.ParentPageID()
	parentPage, parent, err := idx.fetchInternal(parentID)
	if err != nil {
		idx.pool.UnpinPage(nodeID, false)
		return err
	}

	myIdx := parent.ValueIndex(nodeID)
	preferLeft := myIdx != 0
	var siblingID diskmgr.PageID
	var sepIdx int
	if preferLeft {
		siblingID = parent.ValueAt(myIdx - 1)
		sepIdx = myIdx
	} else {
		siblingID = parent.ValueAt(myIdx + 1)
		sepIdx = myIdx + 1
	}

	siblingPage, sibling, err := idx.fetchInternal(siblingID)
	if err != nil {
		idx.pool.UnpinPage(parentID, false)
		idx.pool.UnpinPage(nodeID, false)
		return err
	}

	// The combined page must still fit. The parent's separator above the
	// right page is pulled down into the right page's slot-0 key, so it
	// adds no slot of its own to the merged result.
	if sibling.Size()+node.Size() <= node.MaxSize() {
		var moved []diskmgr.PageID
		if preferLeft {
			sep := parent.KeyAt(sepIdx)
			moved = node.MoveAllTo(sibling, sep)
			idx.writeInternal(siblingPage, sibling)
			idx.pool.UnpinPage(siblingID, true)
			idx.pool.UnpinPage(nodeID, false)
			if err := idx.pool.DeletePage(nodeID); err != nil {
				return fmt.Errorf("bptree: coalesce internal: delete %d: %w", nodeID, err)
			}
			parent.Remove(nodeID)
		} else {
			sep := parent.KeyAt(sepIdx)
			moved = sibling.MoveAllTo(node, sep)
			idx.writeInternal(nodePage, node)
			idx.pool.UnpinPage(nodeID, true)
			idx.pool.UnpinPage(siblingID, false)
			if err := idx.pool.DeletePage(siblingID); err != nil {
				return fmt.Errorf("bptree: coalesce internal: delete %d: %w", siblingID, err)
			}
			parent.Remove(siblingID)
		}

		idx.writeInternal(parentPage, parent)
		idx.pool.UnpinPage(parentID, true)

		survivor := nodeID
		if preferLeft {
			survivor = siblingID
		}
		if err := idx.reparentAll(moved, survivor); err != nil {
			return err
		}

		if parent.IsRootPage() {
			return idx.adjustRootInternal(parentID)
		}
		if parent.Size() < parent.MinSize() {
			return idx.coalesceOrRedistributeInternal(parentID)
		}
		return nil
	}

	// Redistribute one child across the separator.
	if preferLeft {
		sep := parent.KeyAt(sepIdx)
		movedChild, newSep := sibling.MoveLastToFrontOf(node, sep)
		parent.SetKeyAt(sepIdx, newSep)
		if err := idx.reparentAll([]diskmgr.PageID{movedChild}, nodeID); err != nil {
			return err
		}
	} else {
		sep := parent.KeyAt(sepIdx)
		movedChild := sibling.MoveFirstToEndOf(node, sep)
		parent.SetKeyAt(sepIdx, sibling.KeyAt(0))
		if err := idx.reparentAll([]diskmgr.PageID{movedChild}, nodeID); err != nil {
			return err
		}
	}

	idx.writeInternal(nodePage, node)
	idx.pool.UnpinPage(nodeID, true)
	idx.writeInternal(siblingPage, sibling)
	idx.pool.UnpinPage(siblingID, true)
	idx.writeInternal(parentPage, parent)
	idx.pool.UnpinPage(parentID, true)
	return nil
}

// adjustRootLeaf implements AdjustRoot's case B: a leaf root with size 0
// collapses the tree to empty. The caller has already unpinned rootID; the
// now-unreachable page is freed here, mirroring adjustRootInternal's
// cleanup of the old root it promotes past.
func (idx *Index) adjustRootLeaf(rootID diskmgr.PageID) error {
	idx.rootPageID = diskmgr.InvalidPageID
	if err := idx.updateRootPageID(false); err != nil {
		return err
	}
	if err := idx.pool.DeletePage(rootID); err != nil {
		return fmt.Errorf("bptree: adjust root: delete empty leaf root %d: %w", rootID, err)
	}
	return nil
}

// adjustRootInternal implements AdjustRoot's case A: an internal root with
// exactly one remaining child promotes that child to be the new root.
func (idx *Index) adjustRootInternal(rootID diskmgr.PageID) error {
	_, root, err := idx.fetchInternal(rootID)
	if err != nil {
		return err
	}

	if root.Size() != 1 {
		idx.pool.UnpinPage(rootID, false)
		return nil
	}

	newRootID := root.ValueAt(0)
	idx.pool.UnpinPage(rootID, false)
	if err := idx.pool.DeletePage(rootID); err != nil {
		return fmt.Errorf("bptree: adjust root: delete old root %d: %w", rootID, err)
	}

	if err := idx.setParentPageID(newRootID, diskmgr.InvalidPageID); err != nil {
		return err
	}

	idx.rootPageID = newRootID
	return idx.updateRootPageID(false)
}
