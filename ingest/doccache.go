package ingest

import (
	"sync/atomic"
	"unsafe"
)

// cacheNode is one link in the document cache's singly-linked list.
// Nodes are immutable once published and are never unlinked, so a
// reader that has loaded a node may keep walking through it even while
// writers keep prepending.
type cacheNode struct {
	h    *handle
	next *cacheNode
}

// documentCache keeps every ingested document reachable for
// iteration: an atomic-head singly-linked list that writers prepend to
// and readers iterate lock-free. It exists purely for iteration (e.g.
// full-corpus scans); lookup by id is still the doc-id map's job, and
// a document deleted or expired remains in the cache's list forever.
type documentCache struct {
	head unsafe.Pointer // *cacheNode
}

// prepend publishes h as the new head of the cache. Safe for
// concurrent callers: competing prependers retry with a
// compare-and-swap rather than taking a lock, since the ingest path
// must not serialize unrelated shards' adds on a single mutex.
func (c *documentCache) prepend(h *handle) {
	n := &cacheNode{h: h}
	for {
		old := atomic.LoadPointer(&c.head)
		n.next = (*cacheNode)(old)
		if atomic.CompareAndSwapPointer(&c.head, old, unsafe.Pointer(n)) {
			return
		}
	}
}

// iterate walks a snapshot of the cache from the current head,
// invoking fn for every handle until fn returns false or the list is
// exhausted. Nodes prepended after the snapshot is taken are not
// visited, matching the "iterators remain valid in the presence of
// writers" requirement rather than a stronger linearizability promise.
func (c *documentCache) iterate(fn func(DocumentHandle) bool) {
	n := (*cacheNode)(atomic.LoadPointer(&c.head))
	for n != nil {
		if !fn(n.h) {
			return
		}
		n = n.next
	}
}
