package shard

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/bufpool"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/recycler"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/grailbio/base/log"
)

// sliceList is the immutable value Shard.current points to: the
// ordered list of live slices and the parallel vector of their raw
// buffers, always rebuilt and published together so buffers[i] is
// always the buffer owned by slices[i].
type sliceList struct {
	slices  []*slicebuf.Slice
	buffers [][]byte
}

// Shard owns an ordered list of slices and derives its slice capacity
// from a fixed buffer size: the largest rank-0 column count whose
// doc-table + row-table regions plus trailer fit in one allocator
// block.
type Shard struct {
	layout      slicebuf.Layout
	maxRank     bitfunnelpb.Rank
	matchAllRow bitfunnelpb.RowIndex

	allocator *bufpool.Allocator
	recycler  *recycler.Recycler
	tokens    *recycler.TokenManager

	mu      sync.Mutex     // serializes allocation and slice-list mutation
	current unsafe.Pointer // *sliceList, read lock-free via loadList
	active  *slicebuf.Slice
}

// New builds a Shard whose slices use termTable's row counts and
// schema's doc table layout, packed into bufferBytes-sized blocks
// drawn from allocator.
func New(termTable *termtable.TermTable, schema doctable.Schema, allocator *bufpool.Allocator, bufferBytes uint32, maxRank bitfunnelpb.Rank, rec *recycler.Recycler, tokens *recycler.TokenManager) *Shard {
	rankCounts := make([]slicebuf.RankRowCount, 0, int(maxRank)+1)
	for rank := bitfunnelpb.Rank(0); rank <= maxRank; rank++ {
		rankCounts = append(rankCounts, slicebuf.RankRowCount{
			Rank:     rank,
			RowCount: termTable.GetTotalRowCount(rank),
		})
	}

	capacity := slicebuf.CapacityForBufferSize(schema, bufferBytes, maxRank, rankCounts)
	if capacity == 0 {
		log.Panicf("shard: bufferBytes %d too small to hold even one document", bufferBytes)
	}
	layout := slicebuf.NewLayout(schema, capacity, maxRank, rankCounts)

	sh := &Shard{
		layout:      layout,
		maxRank:     maxRank,
		matchAllRow: matchAllRowIndex(termTable),
		allocator:   allocator,
		recycler:    rec,
		tokens:      tokens,
	}
	sh.storeList(&sliceList{})
	return sh
}

func matchAllRowIndex(tt *termtable.TermTable) bitfunnelpb.RowIndex {
	kind, start, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: bitfunnelpb.MatchAllRowHash})
	if kind != termtable.Explicit || length != 1 {
		log.Panicf("shard: term table has no valid match-all system row")
	}
	return tt.RowIds()[start].Index()
}

// Layout returns the buffer geometry shared by every slice in this
// shard.
func (sh *Shard) Layout() slicebuf.Layout { return sh.layout }

// Tokens returns the token manager readers must acquire a token from
// before calling GetSliceBuffers.
func (sh *Shard) Tokens() *recycler.TokenManager { return sh.tokens }

func (sh *Shard) loadList() *sliceList {
	return (*sliceList)(atomic.LoadPointer(&sh.current))
}

func (sh *Shard) storeList(l *sliceList) {
	atomic.StorePointer(&sh.current, unsafe.Pointer(l))
}

// GetSliceBuffers returns the current snapshot of slice buffers. The
// matcher iterates this under a token acquired from Tokens(); the
// returned slice remains valid for as long as that token is held, even
// across later swaps.
func (sh *Shard) GetSliceBuffers() [][]byte {
	return sh.loadList().buffers
}

// Slices returns the current snapshot of owning Slice pointers,
// parallel to GetSliceBuffers.
func (sh *Shard) Slices() []*slicebuf.Slice {
	return sh.loadList().slices
}

// AllocateDocument allocates a column for one new document: it tries
// the active slice first, and creates a new slice if the active one
// is full or doesn't exist yet.
func (sh *Shard) AllocateDocument() (*slicebuf.Slice, bitfunnelpb.DocIndex, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.active != nil {
		if col, err := sh.active.TryAllocateDocument(); err == nil {
			return sh.active, col, nil
		}
	}

	// The allocator only serves whole blocks; the slice uses the
	// layout-sized prefix and the whole block goes back on recycling.
	buf, err := sh.allocator.Allocate(sh.allocator.BlockSize())
	if err != nil {
		// Allocator exhaustion is the only error on this path; the
		// caller decides whether to retry or shed load.
		return nil, 0, err
	}
	newSlice := slicebuf.New(sh.layout, buf[:sh.layout.BufferBytes()], sh.matchAllRow)
	sh.installSlice(newSlice, buf)

	col, err := newSlice.TryAllocateDocument()
	if err != nil {
		log.Panicf("shard: freshly created slice rejected its first allocation: %v", err)
	}
	return newSlice, col, nil
}

// installSlice appends newSlice/buf to the published slice list and
// makes it the active slice. Must be called with sh.mu held.
func (sh *Shard) installSlice(newSlice *slicebuf.Slice, buf []byte) {
	cur := sh.loadList()
	slices := make([]*slicebuf.Slice, len(cur.slices), len(cur.slices)+1)
	copy(slices, cur.slices)
	slices = append(slices, newSlice)

	buffers := make([][]byte, len(cur.buffers), len(cur.buffers)+1)
	copy(buffers, cur.buffers)
	buffers = append(buffers, buf)

	sh.storeList(&sliceList{slices: slices, buffers: buffers})
	sh.active = newSlice
}

// RecycleSlice removes old from the shard's slice list and hands it,
// together with its buffer and a snapshot of outstanding tokens, to
// the recycler. old must have every column expired.
func (sh *Shard) RecycleSlice(old *slicebuf.Slice) {
	if !old.FullyExpired() {
		log.Panicf("shard: recycle_slice on a non-fully-expired slice")
	}

	sh.mu.Lock()
	cur := sh.loadList()
	slices := make([]*slicebuf.Slice, 0, len(cur.slices))
	buffers := make([][]byte, 0, len(cur.buffers))
	var oldBuf []byte
	found := false
	for i, s := range cur.slices {
		if s == old {
			oldBuf = cur.buffers[i]
			found = true
			continue
		}
		slices = append(slices, s)
		buffers = append(buffers, cur.buffers[i])
	}
	if !found {
		sh.mu.Unlock()
		log.Panicf("shard: recycle_slice on a slice not owned by this shard")
	}
	sh.storeList(&sliceList{slices: slices, buffers: buffers})
	if sh.active == old {
		sh.active = nil
	}
	sh.mu.Unlock()

	// old is no longer reachable through the shard's slice list, so
	// the shard's own reference is dropped here, not before:
	// ReadyToRecycle must only see ref_count hit zero once the last
	// real owner has let go.
	old.Release()

	tracker := sh.tokens.StartTracker()
	sh.recycler.Enqueue(recycler.Recyclable{Slice: old, Buffers: [][]byte{oldBuf}, Tracker: tracker})
}
