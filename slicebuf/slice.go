package slicebuf

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/rowtable"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
)

// ErrSliceFull is returned by TryAllocateDocument when the slice has
// no Free columns left.
var ErrSliceFull = errors.New("slicebuf: slice is full")

// Slice owns one buffer: a doc table plus one row table per populated
// rank, laid out by a Layout, plus the per-column state machine:
//
//	Free --(TryAllocateDocument)--> Pending --(CommitDocument)--> Committed --(ExpireDocument)--> Expired
type Slice struct {
	id     uint64
	layout Layout
	buf    []byte
	blobs  [][]byte // doctable variable-blob side table

	matchAllRow bitfunnelpb.RowIndex

	mu                 sync.Mutex
	unallocatedCount   bitfunnelpb.DocIndex
	commitPendingCount bitfunnelpb.DocIndex
	expiredCount       bitfunnelpb.DocIndex
	columnState        []columnState

	refCount int32
	zeroRef  chan struct{} // closed when refCount first reaches 0
}

type columnState int

const (
	stateFree columnState = iota
	statePending
	stateCommitted
	stateExpired
)

// New creates a Slice over buf, which must be exactly
// layout.BufferBytes() long, and registers it so GetSliceFromBuffer
// can recover it later. matchAllRow is the row index of the rank-0
// match-all system row, used to initialize that row to all-ones.
func New(layout Layout, buf []byte, matchAllRow bitfunnelpb.RowIndex) *Slice {
	if uint32(len(buf)) != layout.BufferBytes() {
		log.Panicf("slicebuf: buffer length %d does not match layout size %d", len(buf), layout.BufferBytes())
	}
	s := &Slice{
		id:               allocateSliceID(),
		layout:           layout,
		buf:              buf,
		blobs:            make([][]byte, layout.DocTable().VariableBlobSlots()),
		matchAllRow:      matchAllRow,
		unallocatedCount: layout.Capacity,
		columnState:      make([]columnState, layout.Capacity),
		refCount:         1, // the shard itself holds one reference
		zeroRef:          make(chan struct{}),
	}
	s.initialize()
	s.writeTrailer()
	registry.Store(s.id, s)
	return s
}

// initialize zeroes every populated rank's row table region and sets
// the rank-0 match-all row to all-ones. Each rank's region is a
// disjoint byte range of s.buf, so the ranks are zeroed concurrently.
func (s *Slice) initialize() {
	ranks := make([]rowtable.Descriptor, 0, int(s.layout.MaxRank)+1)
	for rank := bitfunnelpb.Rank(0); rank <= s.layout.MaxRank; rank++ {
		if rd, ok := s.layout.RowTable(rank); ok {
			ranks = append(ranks, rd)
		}
	}
	if err := traverse.Each(len(ranks), func(i int) error {
		rd := ranks[i]
		if rd.Rank() == 0 {
			rd.Initialize(s.buf, s.matchAllRow)
		} else {
			rd.Initialize(s.buf, 0)
		}
		return nil
	}); err != nil {
		log.Panicf("slicebuf: row table initialization failed: %v", err)
	}
}

func (s *Slice) writeTrailer() {
	writeTrailer(s.buf, s.layout, s.id)
}

func writeTrailer(buf []byte, layout Layout, id uint64) {
	off := layout.trailerOffset()
	binary.LittleEndian.PutUint64(buf[off:off+trailerBytes], id)
}

func readTrailer(buf []byte, layout Layout) uint64 {
	off := layout.trailerOffset()
	return binary.LittleEndian.Uint64(buf[off : off+trailerBytes])
}

// Capacity returns the number of rank-0 columns this slice holds.
func (s *Slice) Capacity() bitfunnelpb.DocIndex { return s.layout.Capacity }

// Layout returns the buffer geometry this slice was built with.
func (s *Slice) Layout() Layout { return s.layout }

// Buffer returns the raw slice buffer. Callers other than the owning
// shard and ingestion thread for this slice's active column must treat
// it as read-only.
func (s *Slice) Buffer() []byte { return s.buf }

// DocTable returns the doc table descriptor, bound to this slice's
// schema and capacity.
func (s *Slice) DocTable() doctable.Descriptor { return s.layout.DocTable() }

// VariableBlobs returns the side table variable blobs are stored in,
// for use with the doctable.Descriptor accessors.
func (s *Slice) VariableBlobs() [][]byte { return s.blobs }

// RowTable returns the row table descriptor for rank, if this slice's
// layout has rows at that rank.
func (s *Slice) RowTable(rank bitfunnelpb.Rank) (rowtable.Descriptor, bool) {
	return s.layout.RowTable(rank)
}

// TryAllocateDocument attempts to move one column from Free to
// Pending. It fails with ErrSliceFull when no unallocated columns
// remain.
func (s *Slice) TryAllocateDocument() (bitfunnelpb.DocIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unallocatedCount == 0 {
		return 0, ErrSliceFull
	}
	col := s.layout.Capacity - s.unallocatedCount
	if s.columnState[col] != stateFree {
		log.Panicf("slicebuf: column %d expected Free, found state %d", col, s.columnState[col])
	}
	s.columnState[col] = statePending
	s.unallocatedCount--
	s.commitPendingCount++
	return col, nil
}

// CommitDocument moves col from Pending to Committed. It panics if col
// was not Pending. It returns true iff the slice is now full.
func (s *Slice) CommitDocument(col bitfunnelpb.DocIndex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columnState[col] != statePending {
		log.Panicf("slicebuf: commit_document on column %d not in Pending state", col)
	}
	s.columnState[col] = stateCommitted
	s.commitPendingCount--
	return s.unallocatedCount == 0 && s.commitPendingCount == 0
}

// ExpireDocument moves col from Committed to Expired. It panics if col
// was not Committed: expiring an uncommitted column is a programming
// error. It returns true iff every column is now expired.
func (s *Slice) ExpireDocument(col bitfunnelpb.DocIndex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columnState[col] != stateCommitted {
		log.Panicf("slicebuf: expire_document on column %d not in Committed state", col)
	}
	s.columnState[col] = stateExpired
	s.expiredCount++
	return s.expiredCount == s.layout.Capacity
}

// Full reports unallocated_count == 0 && commit_pending_count == 0.
func (s *Slice) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unallocatedCount == 0 && s.commitPendingCount == 0
}

// FullyExpired reports expired_count == capacity.
func (s *Slice) FullyExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredCount == s.layout.Capacity
}

// Counters returns a snapshot of (unallocated, commit_pending,
// committed, expired); their sum always equals capacity.
func (s *Slice) Counters() (unallocated, commitPending, committed, expired bitfunnelpb.DocIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	committed = s.layout.Capacity - s.unallocatedCount - s.commitPendingCount - s.expiredCount
	return s.unallocatedCount, s.commitPendingCount, committed, s.expiredCount
}

// AddRef increments the slice's long-lived holder reference count.
// Short-lived readers use tokens instead; AddRef is for holders like a
// backup writer that must keep a slice alive across token generations.
// Callers must already hold a reference (or be the shard) when they
// call AddRef: reviving a slice whose count has reached zero is a
// programming error.
func (s *Slice) AddRef() {
	if atomic.AddInt32(&s.refCount, 1) <= 1 {
		log.Panicf("slicebuf: add_ref on a slice whose reference count had reached zero")
	}
}

// Release decrements the reference count and returns the count after
// decrementing. The decrement that reaches zero signals the recycler
// that the last long-lived holder has let go.
func (s *Slice) Release() int32 {
	n := atomic.AddInt32(&s.refCount, -1)
	if n < 0 {
		log.Panicf("slicebuf: release without a matching reference")
	}
	if n == 0 {
		close(s.zeroRef)
	}
	return n
}

// RefCount returns the current reference count.
func (s *Slice) RefCount() int32 { return atomic.LoadInt32(&s.refCount) }

// WaitZeroRef blocks until the reference count has reached zero.
func (s *Slice) WaitZeroRef() { <-s.zeroRef }

// ReadyToRecycle reports whether every column is expired and no holder
// references remain.
func (s *Slice) ReadyToRecycle() bool {
	return s.FullyExpired() && s.RefCount() == 0
}

// Recycle removes this slice from the back-pointer registry and
// drops its variable-blob side table, releasing their memory. Only
// the recycler calls this, and only once ReadyToRecycle() is true;
// the buffer itself is the caller's to return to the allocator
// afterward.
func (s *Slice) Recycle() {
	if !s.ReadyToRecycle() {
		log.Panicf("slicebuf: recycling a non-fully-expired or still-referenced slice")
	}
	s.layout.DocTable().Cleanup(s.blobs)
	registry.Delete(s.id)
}
