// Package docidmap implements the doc-id map: a sharded, mutex-guarded
// map from host document id to the ingestion handle backing it.
//
// The map is a fixed-size array of mutex-guarded buckets, selected by
// hashing the key with seahash, so concurrent ingestion threads
// touching different doc ids rarely contend on the same lock.
package docidmap

import (
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/bitfunnel/bfcore/bitfunnelpb"
)

const numShards = 1024

type bucket struct {
	mu      sync.Mutex
	entries map[bitfunnelpb.DocId]interface{}
}

// Map is a concurrent-safe doc_id -> handle map. The value type is
// left as interface{} rather than a concrete *ingest.Handle so this
// package has no import-cycle dependency on ingest.
type Map struct {
	buckets [numShards]bucket
}

// New creates an empty Map.
func New() *Map {
	m := &Map{}
	for i := range m.buckets {
		m.buckets[i].entries = make(map[bitfunnelpb.DocId]interface{})
	}
	return m
}

func shardKey(id bitfunnelpb.DocId) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	return seahash.Sum64(buf[:])
}

func (m *Map) bucketFor(id bitfunnelpb.DocId) *bucket {
	return &m.buckets[shardKey(id)%numShards]
}

// Insert adds (id -> handle) and reports true on success. It reports
// false without modifying the map if id is already present.
func (m *Map) Insert(id bitfunnelpb.DocId, handle interface{}) bool {
	b := m.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[id]; exists {
		return false
	}
	b.entries[id] = handle
	return true
}

// Delete removes id from the map and reports whether it was present.
func (m *Map) Delete(id bitfunnelpb.DocId) bool {
	b := m.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[id]; !exists {
		return false
	}
	delete(b.entries, id)
	return true
}

// Contains reports whether id is present.
func (m *Map) Contains(id bitfunnelpb.DocId) bool {
	b := m.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exists := b.entries[id]
	return exists
}

// Get returns the handle stored for id, if any.
func (m *Map) Get(id bitfunnelpb.DocId) (interface{}, bool) {
	b := m.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, exists := b.entries[id]
	return v, exists
}

// ApproxSize returns the approximate number of entries. It is exact
// only when called while no other goroutine is mutating the map.
func (m *Map) ApproxSize() int {
	n := 0
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.Lock()
		n += len(b.entries)
		b.mu.Unlock()
	}
	return n
}
