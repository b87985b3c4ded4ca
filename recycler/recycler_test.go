package recycler

import (
	"testing"
	"time"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/bufpool"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/stretchr/testify/require"
)

func newFullyExpiredSlice(t *testing.T, layout slicebuf.Layout, buf []byte) *slicebuf.Slice {
	t.Helper()
	s := slicebuf.New(layout, buf, 1)
	cols := make([]bitfunnelpb.DocIndex, 0, s.Capacity())
	for i := bitfunnelpb.DocIndex(0); i < s.Capacity(); i++ {
		col, err := s.TryAllocateDocument()
		require.NoError(t, err)
		cols = append(cols, col)
	}
	for _, col := range cols {
		s.CommitDocument(col)
	}
	for _, col := range cols {
		s.ExpireDocument(col)
	}
	s.Release() // drop the shard's reference so ref_count reaches 0
	return s
}

func testLayout() slicebuf.Layout {
	schema := doctable.Schema{FixedBlobSizes: []uint32{4}}
	return slicebuf.NewLayout(schema, 64, 0, []slicebuf.RankRowCount{{Rank: 0, RowCount: 4}})
}

func TestRecyclerReleasesBufferAfterTrackerDrains(t *testing.T) {
	layout := testLayout()
	pool := bufpool.New(int(layout.BufferBytes()), 1)
	buf, err := pool.Allocate(int(layout.BufferBytes()))
	require.NoError(t, err)

	s := newFullyExpiredSlice(t, layout, buf)

	tm := NewTokenManager()
	tok := tm.RequestToken()
	tracker := tm.StartTracker()

	r := New(pool, 4)
	r.Enqueue(Recyclable{Slice: s, Buffers: [][]byte{buf}, Tracker: tracker})

	require.Equal(t, 1, pool.InUseCount())

	tok.Release()
	r.Shutdown()

	require.Equal(t, 0, pool.InUseCount())
}

func TestEnqueueAfterShutdownPanics(t *testing.T) {
	pool := bufpool.New(8, 1)
	r := New(pool, 1)
	r.Shutdown()

	require.Panics(t, func() {
		r.Enqueue(Recyclable{})
	})
}

func TestSliceIsNotReadyToRecycleUntilFullyExpiredAndUnreferenced(t *testing.T) {
	layout := testLayout()
	pool := bufpool.New(int(layout.BufferBytes()), 1)
	buf, err := pool.Allocate(int(layout.BufferBytes()))
	require.NoError(t, err)
	s := slicebuf.New(layout, buf, 1)

	// Fresh slice: neither fully expired nor unreferenced.
	require.False(t, s.ReadyToRecycle())
}

func TestTokenManagerShutdownRefusesNewTokens(t *testing.T) {
	tm := NewTokenManager()
	tm.Shutdown()
	require.Panics(t, func() { tm.RequestToken() })
}

func TestTrackerOnlyWaitsForSnapshottedTokens(t *testing.T) {
	tm := NewTokenManager()
	tok1 := tm.RequestToken()
	tracker := tm.StartTracker()
	tok2 := tm.RequestToken() // issued after the snapshot

	completed := make(chan struct{})
	go func() {
		tracker.WaitForCompletion()
		close(completed)
	}()

	select {
	case <-completed:
		t.Fatal("tracker completed before its snapshotted token was released")
	case <-time.After(20 * time.Millisecond):
	}

	tok1.Release()
	<-completed

	tok2.Release()
}
