package nodecache

import (
	"go.viam.com/octreeview/octree"
)

// requestTracker is the set of nodes admitted to the loader whose results were not consumed yet.
type requestTracker struct {
	limit int
	ids   map[octree.NodeID]struct{}
}

func newRequestTracker(limit int) *requestTracker {
	return &requestTracker{limit: limit, ids: make(map[octree.NodeID]struct{}, limit)}
}

func (t *requestTracker) contains(id octree.NodeID) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *requestTracker) full() bool {
	return len(t.ids) >= t.limit
}

// add admits id unless it is already tracked or the tracker is full.
func (t *requestTracker) add(id octree.NodeID) bool {
	if t.contains(id) || t.full() {
		return false
	}
	t.ids[id] = struct{}{}
	return true
}

func (t *requestTracker) remove(id octree.NodeID) bool {
	if !t.contains(id) {
		return false
	}
	delete(t.ids, id)
	return true
}

func (t *requestTracker) len() int {
	return len(t.ids)
}

func (t *requestTracker) clear() {
	clear(t.ids)
}
