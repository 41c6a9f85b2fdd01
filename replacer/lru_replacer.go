// Package replacer implements the page-replacement policy used by the
// buffer pool to pick a frame to evict when no frame is free.
package replacer

import "sync"

// FrameID identifies a frame slot inside the buffer pool's fixed-size array.
type FrameID int32

// LRUReplacer tracks frames that are currently unpinned and therefore
// eligible for eviction. A frame becomes eligible when Unpin is called and
// stops being eligible the moment it is either Pinned again or evicted via
// Victim. Eligibility is tracked in a FIFO order: Unpin appends to the back,
// Victim pops the front. Unpinning a frame that is already eligible is a
// no-op — it does not move the frame back to the front of the order.
type LRUReplacer struct {
	// mu is redundant under the pool's single global latch, which already
	// serializes every call into the replacer; kept so this type is safe to
	// use on its own (as the tests do) without relying on an external lock.
	mu        sync.Mutex
	order     []FrameID
	positions map[FrameID]int
}

// NewLRUReplacer creates a replacer with room for capacity frames.
func NewLRUReplacer(capacity int) *LRUReplacer {
	return &LRUReplacer{
		order:     make([]FrameID, 0, capacity),
		positions: make(map[FrameID]int, capacity),
	}
}

// Victim evicts the least recently unpinned frame, writing its id to
// *frameID and returning true. Returns false if no frame is eligible.
func (r *LRUReplacer) Victim(frameID *FrameID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return false
	}

	victim := r.order[0]
	r.order = r.order[1:]
	delete(r.positions, victim)
	r.reindex()

	*frameID = victim
	return true
}

// Pin removes frameID from the eligible set, e.g. because it was just
// fetched and has a nonzero pin count. A no-op if the frame was not
// eligible to begin with.
func (r *LRUReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.positions[frameID]
	if !ok {
		return
	}

	r.order = append(r.order[:idx], r.order[idx+1:]...)
	delete(r.positions, frameID)
	r.reindex()
}

// Unpin marks frameID as eligible for eviction. A no-op if the frame is
// already eligible — it does not refresh its position.
func (r *LRUReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[frameID]; ok {
		return
	}

	r.positions[frameID] = len(r.order)
	r.order = append(r.order, frameID)
}

// Size returns the number of frames currently eligible for eviction.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// reindex rebuilds the position map after a slice mutation. The replacer is
// sized to the buffer pool's frame count, which is small, so a linear
// rebuild on Pin/Victim is cheap relative to the lock it runs under.
func (r *LRUReplacer) reindex() {
	for i, id := range r.order {
		r.positions[id] = i
	}
}
