package bptree

import (
	"bytes"
	"path/filepath"
	"testing"

	"bptreekv/bufferpool"
	"bptreekv/diskmgr"
)

func newTestIndex(t *testing.T, poolSize int, leafMax, internalMax int32) (*Index, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	disk, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	pool := bufferpool.NewManager(poolSize, disk, nil)
	idx, err := OpenIndex("test", pool, bytes.Compare, leafMax, internalMax, nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	return idx, func() { disk.Close() }
}

func key(n int64) []byte { return encodeIntKey(n) }

func TestInsertCausesLeafSplitAndNewRoot(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{10, 20, 30} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if idx.rootPageID == diskmgr.InvalidPageID {
		t.Fatalf("expected a root page after inserts")
	}

	page, leaf, err := idx.fetchLeaf(idx.rootPageID)
	if err != nil {
		t.Fatalf("fetchLeaf(root): %v", err)
	}
	if leaf.Size() != 3 {
		t.Fatalf("root leaf size = %d, want 3", leaf.Size())
	}
	idx.pool.UnpinPage(page.ID(), false)

	if err := idx.Insert(key(40), synthesizeValue(40)); err != nil {
		t.Fatalf("Insert(40): %v", err)
	}

	rootPage, root, err := idx.fetchInternal(idx.rootPageID)
	if err != nil {
		t.Fatalf("root is not internal after split: %v", err)
	}
	if root.Size() != 2 {
		t.Fatalf("root internal size = %d, want 2", root.Size())
	}
	idx.pool.UnpinPage(rootPage.ID(), false)

	leftPage, left, err := idx.fetchLeaf(root.ValueAt(0))
	if err != nil {
		t.Fatalf("fetch left leaf: %v", err)
	}
	if left.Size() != 2 || !bytes.Equal(left.KeyAt(0), key(10)) || !bytes.Equal(left.KeyAt(1), key(20)) {
		t.Fatalf("left leaf = %v, want [10,20]", dumpKeys(left))
	}
	idx.pool.UnpinPage(leftPage.ID(), false)

	rightPage, right, err := idx.fetchLeaf(root.ValueAt(1))
	if err != nil {
		t.Fatalf("fetch right leaf: %v", err)
	}
	if right.Size() != 2 || !bytes.Equal(right.KeyAt(0), key(30)) || !bytes.Equal(right.KeyAt(1), key(40)) {
		t.Fatalf("right leaf = %v, want [30,40]", dumpKeys(right))
	}
	if right.NextPageID() != diskmgr.InvalidPageID {
		t.Fatalf("right leaf must be the tail of the chain")
	}
	idx.pool.UnpinPage(rightPage.ID(), false)

	if left.NextPageID() != right.PageID() {
		t.Fatalf("left leaf must link to right leaf")
	}
}

func TestDeleteCoalescesBackToSingleLeafRoot(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{10, 20, 30, 40} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	if err := idx.Remove(key(40)); err != nil {
		t.Fatalf("Remove(40): %v", err)
	}

	page, leaf, err := idx.fetchLeaf(idx.rootPageID)
	if err != nil {
		t.Fatalf("root is not a leaf after coalesce: %v", err)
	}
	defer idx.pool.UnpinPage(page.ID(), false)

	if leaf.Size() != 3 {
		t.Fatalf("root leaf size = %d, want 3, keys=%v", leaf.Size(), dumpKeys(leaf))
	}
	for i, want := range []int64{10, 20, 30} {
		if !bytes.Equal(leaf.KeyAt(i), key(want)) {
			t.Fatalf("root leaf key[%d] = %v, want %d", i, leaf.KeyAt(i), want)
		}
	}
	if !leaf.IsRootPage() {
		t.Fatalf("surviving leaf must be the root")
	}
}

func TestIteratorWalksAllKeysInOrder(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{5, 1, 4, 2, 3} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	it, err := idx.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()

	var got []int64
	for !it.IsEnd() {
		got = append(got, int64FromKey(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	want := []int64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBeginAtPositionsAndHoldsOnePinAcrossTheWalk(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{10, 20, 30, 40, 50, 60} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	it, err := idx.BeginAt(key(35))
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}

	var got []int64
	for !it.IsEnd() {
		page, err := idx.pool.FetchPage(it.pageID)
		if err != nil {
			t.Fatalf("FetchPage(%d): %v", it.pageID, err)
		}
		pins := page.PinCount()
		idx.pool.UnpinPage(it.pageID, false)
		if pins != 2 {
			t.Fatalf("current leaf pin count = %d, want 2 (the iterator's one pin plus this fetch)", pins)
		}
		got = append(got, int64FromKey(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []int64{40, 50, 60}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBeginAtOnExactKeyIncludesIt(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{1, 2, 3, 4, 5} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	it, err := idx.BeginAt(key(3))
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}
	defer it.Close()

	if it.IsEnd() || int64FromKey(it.Key()) != 3 {
		t.Fatalf("BeginAt(3) did not position at key 3")
	}
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	if err := idx.Insert(key(1), synthesizeValue(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert(key(1), synthesizeValue(99)); err != ErrDuplicateKey {
		t.Fatalf("Insert duplicate = %v, want ErrDuplicateKey", err)
	}
}

func TestGetValueIsTotalAfterInsert(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		if err := idx.Insert(key(k), synthesizeValue(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		v, found, err := idx.GetValue(key(k))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", k, err)
		}
		if !found {
			t.Fatalf("GetValue(%d): not found", k)
		}
		if !bytes.Equal(v, synthesizeValue(k)) {
			t.Fatalf("GetValue(%d) = %v, want %v", k, v, synthesizeValue(k))
		}
	}
}

func TestInsertRemoveRoundTripLeavesTreeEmpty(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	if err := idx.Insert(key(42), synthesizeValue(42)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Remove(key(42)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !idx.IsEmpty() {
		t.Fatalf("expected tree to be empty after insert+remove round trip")
	}
}

func TestRemoveEmptyingLeafRootFreesTheOldRootPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	disk, err := diskmgr.Open(path)
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	defer disk.Close()

	pool := bufferpool.NewManager(8, disk, nil)
	idx, err := OpenIndex("test", pool, bytes.Compare, 3, 3, nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}

	if err := idx.Insert(key(42), synthesizeValue(42)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	firstRootID := idx.rootPageID

	if err := idx.Remove(key(42)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !idx.IsEmpty() {
		t.Fatalf("expected tree to be empty after insert+remove round trip")
	}

	totalBefore := disk.TotalPages()

	// A fresh insert allocates a new root leaf. If the old root leaf page
	// were never freed via DeletePage, the disk manager would have no
	// choice but to mint a brand new id; since DeallocatePage returns ids
	// to a LIFO free list, the reused id must equal the emptied root's.
	if err := idx.Insert(key(7), synthesizeValue(7)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx.rootPageID != firstRootID {
		t.Fatalf("new root page id = %d, want reused old root id %d (old root leaf was never freed)", idx.rootPageID, firstRootID)
	}
	if disk.TotalPages() != totalBefore {
		t.Fatalf("disk minted a new page id instead of reusing the freed root leaf: total pages went from %d to %d", totalBefore, disk.TotalPages())
	}
}

func TestRemoveMissingKeyIsNoOp(t *testing.T) {
	idx, cleanup := newTestIndex(t, 8, 3, 3)
	defer cleanup()

	if err := idx.Insert(key(1), synthesizeValue(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Remove(key(999)); err != nil {
		t.Fatalf("Remove missing key should be a no-op, got %v", err)
	}
}

// TestInternalRedistributeFromRightSiblingDuringDeletion builds a 3-level
// tree (root -> internal -> leaf) by hand so that deleting key 1 empties a
// leaf, cascades into a coalesce that underflows its parent internal page,
// and that parent must redistribute a child in from its right internal
// sibling rather than coalesce with it — the
// InternalPage.MoveFirstToEndOf path.
func TestInternalRedistributeFromRightSiblingDuringDeletion(t *testing.T) {
	idx, cleanup := newTestIndex(t, 16, 3, 3)
	defer cleanup()

	reserveID := func() diskmgr.PageID {
		page, err := idx.pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		id := page.ID()
		idx.pool.UnpinPage(id, false)
		return id
	}

	rootID := reserveID()
	n0ID := reserveID()
	n1ID := reserveID()

	newLeaf := func(parent diskmgr.PageID, keys []int64, next diskmgr.PageID) diskmgr.PageID {
		page, err := idx.pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		leaf := NewLeafPage(page.ID(), parent, 3)
		for _, k := range keys {
			if err := leaf.Insert(key(k), synthesizeValue(k), bytes.Compare); err != nil {
				t.Fatalf("Insert(%d): %v", k, err)
			}
		}
		leaf.SetNextPageID(next)
		idx.writeLeaf(page, leaf)
		idx.pool.UnpinPage(page.ID(), true)
		return page.ID()
	}

	l1cID := newLeaf(n1ID, []int64{30, 31}, diskmgr.InvalidPageID)
	l1bID := newLeaf(n1ID, []int64{20, 21}, l1cID)
	l1aID := newLeaf(n1ID, []int64{10, 11}, l1bID)
	l0bID := newLeaf(n0ID, []int64{2, 3}, l1aID)
	l0aID := newLeaf(n0ID, []int64{1}, l0bID)

	writeInternalByID := func(id, parent diskmgr.PageID, children []diskmgr.PageID, keys [][]byte) {
		page, err := idx.pool.FetchPage(id)
		if err != nil {
			t.Fatalf("FetchPage(%d): %v", id, err)
		}
		node := NewInternalPage(id, parent, 3)
		node.PopulateNewRoot(children[0], keys[0], children[1])
		for i := 2; i < len(children); i++ {
			node.InsertNodeAfter(children[i-1], keys[i-1], children[i])
		}
		idx.writeInternal(page, node)
		idx.pool.UnpinPage(id, true)
	}

	writeInternalByID(n0ID, rootID, []diskmgr.PageID{l0aID, l0bID}, [][]byte{key(2)})
	writeInternalByID(n1ID, rootID, []diskmgr.PageID{l1aID, l1bID, l1cID}, [][]byte{key(20), key(30)})
	writeInternalByID(rootID, diskmgr.InvalidPageID, []diskmgr.PageID{n0ID, n1ID}, [][]byte{key(10)})

	idx.rootPageID = rootID
	if err := idx.updateRootPageID(true); err != nil {
		t.Fatalf("updateRootPageID: %v", err)
	}

	if err := idx.Remove(key(1)); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}

	_, n0After, err := idx.fetchInternal(n0ID)
	if err != nil {
		t.Fatalf("fetch n0 after redistribute: %v", err)
	}
	idx.pool.UnpinPage(n0ID, false)
	if n0After.Size() != 2 {
		t.Fatalf("n0.Size() after redistribute = %d, want 2", n0After.Size())
	}

	_, n1After, err := idx.fetchInternal(n1ID)
	if err != nil {
		t.Fatalf("fetch n1 after redistribute: %v", err)
	}
	idx.pool.UnpinPage(n1ID, false)
	if n1After.Size() != 2 {
		t.Fatalf("n1.Size() after redistribute = %d, want 2", n1After.Size())
	}

	for _, k := range []int64{2, 3, 10, 11, 20, 21, 30, 31} {
		if _, found, err := idx.GetValue(key(k)); err != nil || !found {
			t.Fatalf("GetValue(%d) = (found=%v, err=%v), want found", k, found, err)
		}
	}
	if _, found, err := idx.GetValue(key(1)); err != nil || found {
		t.Fatalf("GetValue(1) after removal = (found=%v, err=%v), want not found", found, err)
	}

	it, err := idx.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	var got []int64
	for !it.IsEnd() {
		got = append(got, int64FromKey(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []int64{2, 3, 10, 11, 20, 21, 30, 31}
	if len(got) != len(want) {
		t.Fatalf("iterator order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterator order = %v, want %v", got, want)
		}
	}
}

// TestInternalRedistributeFromLeftSiblingDuringDeletion is the mirror image
// of TestInternalRedistributeFromRightSiblingDuringDeletion: it builds a
// 3-level tree by hand so that deleting a key empties a leaf, cascades into
// a leaf coalesce that underflows its parent internal page, and that parent
// (now at a nonzero slot in the root) must redistribute a child in from its
// *left* internal sibling rather than coalesce with it — the
// InternalPage.MoveLastToFrontOf path, exercising the separator that a
// previous version of this function dropped as nil.
func TestInternalRedistributeFromLeftSiblingDuringDeletion(t *testing.T) {
	idx, cleanup := newTestIndex(t, 16, 3, 3)
	defer cleanup()

	reserveID := func() diskmgr.PageID {
		page, err := idx.pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		id := page.ID()
		idx.pool.UnpinPage(id, false)
		return id
	}

	rootID := reserveID()
	n0ID := reserveID()
	n1ID := reserveID()

	newLeaf := func(parent diskmgr.PageID, keys []int64, next diskmgr.PageID) diskmgr.PageID {
		page, err := idx.pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		leaf := NewLeafPage(page.ID(), parent, 3)
		for _, k := range keys {
			if err := leaf.Insert(key(k), synthesizeValue(k), bytes.Compare); err != nil {
				t.Fatalf("Insert(%d): %v", k, err)
			}
		}
		leaf.SetNextPageID(next)
		idx.writeLeaf(page, leaf)
		idx.pool.UnpinPage(page.ID(), true)
		return page.ID()
	}

	l1bID := newLeaf(n1ID, []int64{40, 41}, diskmgr.InvalidPageID)
	l1aID := newLeaf(n1ID, []int64{30}, l1bID)
	l0cID := newLeaf(n0ID, []int64{20, 21}, l1aID)
	l0bID := newLeaf(n0ID, []int64{10, 11}, l0cID)
	l0aID := newLeaf(n0ID, []int64{1, 2}, l0bID)

	writeInternalByID := func(id, parent diskmgr.PageID, children []diskmgr.PageID, keys [][]byte) {
		page, err := idx.pool.FetchPage(id)
		if err != nil {
			t.Fatalf("FetchPage(%d): %v", id, err)
		}
		node := NewInternalPage(id, parent, 3)
		node.PopulateNewRoot(children[0], keys[0], children[1])
		for i := 2; i < len(children); i++ {
			node.InsertNodeAfter(children[i-1], keys[i-1], children[i])
		}
		idx.writeInternal(page, node)
		idx.pool.UnpinPage(id, true)
	}

	writeInternalByID(n0ID, rootID, []diskmgr.PageID{l0aID, l0bID, l0cID}, [][]byte{key(10), key(20)})
	writeInternalByID(n1ID, rootID, []diskmgr.PageID{l1aID, l1bID}, [][]byte{key(40)})
	writeInternalByID(rootID, diskmgr.InvalidPageID, []diskmgr.PageID{n0ID, n1ID}, [][]byte{key(30)})

	idx.rootPageID = rootID
	if err := idx.updateRootPageID(true); err != nil {
		t.Fatalf("updateRootPageID: %v", err)
	}

	if err := idx.Remove(key(30)); err != nil {
		t.Fatalf("Remove(30): %v", err)
	}

	_, n0After, err := idx.fetchInternal(n0ID)
	if err != nil {
		t.Fatalf("fetch n0 after redistribute: %v", err)
	}
	idx.pool.UnpinPage(n0ID, false)
	if n0After.Size() != 2 {
		t.Fatalf("n0.Size() after redistribute = %d, want 2", n0After.Size())
	}

	_, n1After, err := idx.fetchInternal(n1ID)
	if err != nil {
		t.Fatalf("fetch n1 after redistribute: %v", err)
	}
	idx.pool.UnpinPage(n1ID, false)
	if n1After.Size() != 2 {
		t.Fatalf("n1.Size() after redistribute = %d, want 2", n1After.Size())
	}

	// Root's separator between n0 and n1 must have moved down from 30 to
	// 20 — the key that used to separate n0's last two children — since
	// n0's last child (l0c, keys 20/21) moved under n1.
	_, rootAfter, err := idx.fetchInternal(rootID)
	if err != nil {
		t.Fatalf("fetch root after redistribute: %v", err)
	}
	idx.pool.UnpinPage(rootID, false)
	if !bytes.Equal(rootAfter.KeyAt(1), key(20)) {
		t.Fatalf("root separator after redistribute = %v, want 20", rootAfter.KeyAt(1))
	}

	for _, k := range []int64{1, 2, 10, 11, 20, 21, 40, 41} {
		if _, found, err := idx.GetValue(key(k)); err != nil || !found {
			t.Fatalf("GetValue(%d) = (found=%v, err=%v), want found", k, found, err)
		}
	}
	if _, found, err := idx.GetValue(key(30)); err != nil || found {
		t.Fatalf("GetValue(30) after removal = (found=%v, err=%v), want not found", found, err)
	}

	it, err := idx.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	var got []int64
	for !it.IsEnd() {
		got = append(got, int64FromKey(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []int64{1, 2, 10, 11, 20, 21, 40, 41}
	if len(got) != len(want) {
		t.Fatalf("iterator order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterator order = %v, want %v", got, want)
		}
	}
}

func dumpKeys(leaf *LeafPage) []int64 {
	out := make([]int64, leaf.Size())
	for i := range out {
		out[i] = int64FromKey(leaf.KeyAt(i))
	}
	return out
}

func int64FromKey(k []byte) int64 {
	var n int64
	for _, b := range k {
		n = n<<8 | int64(b)
	}
	return n
}
