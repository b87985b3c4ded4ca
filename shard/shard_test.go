package shard

import (
	"testing"
	"time"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/bufpool"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/recycler"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 200 * time.Millisecond
	testEventuallyTick    = 5 * time.Millisecond
)

func newTestShard(t *testing.T, blockCount int) (*Shard, *bufpool.Allocator) {
	t.Helper()
	tt := termtable.New()
	tt.Seal()

	schema := doctable.Schema{FixedBlobSizes: []uint32{4}}
	const bufferBytes = 4096
	allocator := bufpool.New(bufferBytes, blockCount)
	rec := recycler.New(allocator, 8)
	t.Cleanup(rec.Shutdown)
	tokens := recycler.NewTokenManager()

	sh := New(tt, schema, allocator, bufferBytes, 0, rec, tokens)
	return sh, allocator
}

func TestAllocateDocumentCreatesSliceOnDemand(t *testing.T) {
	sh, _ := newTestShard(t, 4)
	require.Empty(t, sh.Slices())

	s1, col1, err := sh.AllocateDocument()
	require.NoError(t, err)
	require.NotNil(t, s1)
	require.Equal(t, bitfunnelpb.DocIndex(0), col1)
	require.Len(t, sh.Slices(), 1)

	s2, col2, err := sh.AllocateDocument()
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, bitfunnelpb.DocIndex(1), col2)
	require.Len(t, sh.Slices(), 1)
}

func TestAllocateDocumentCreatesNewSliceWhenFull(t *testing.T) {
	sh, _ := newTestShard(t, 4)
	s1, _, err := sh.AllocateDocument()
	require.NoError(t, err)
	cap1 := s1.Capacity()

	// Fill s1 completely.
	for i := bitfunnelpb.DocIndex(1); i < cap1; i++ {
		s, _, err := sh.AllocateDocument()
		require.NoError(t, err)
		require.Same(t, s1, s)
	}

	s2, _, err := sh.AllocateDocument()
	require.NoError(t, err)
	require.NotSame(t, s1, s2)
	require.Len(t, sh.Slices(), 2)
}

func TestAllocateDocumentPropagatesAllocatorExhaustion(t *testing.T) {
	sh, _ := newTestShard(t, 1)
	s1, _, err := sh.AllocateDocument()
	require.NoError(t, err)
	for i := bitfunnelpb.DocIndex(1); i < s1.Capacity(); i++ {
		_, _, err := sh.AllocateDocument()
		require.NoError(t, err)
	}
	_, _, err = sh.AllocateDocument()
	require.ErrorIs(t, err, bufpool.ErrExhausted)
}

func TestRecycleSliceReturnsBufferToAllocator(t *testing.T) {
	sh, allocator := newTestShard(t, 2)
	s := fillAndExpireSlice(t, sh)
	require.Equal(t, 1, allocator.InUseCount())
	sh.RecycleSlice(s)
	require.Empty(t, sh.Slices())

	require.Eventually(t, func() bool {
		return allocator.InUseCount() == 0
	}, testEventuallyTimeout, testEventuallyTick)
}

func fillAndExpireSlice(t *testing.T, sh *Shard) *slicebuf.Slice {
	t.Helper()
	s, col0, err := sh.AllocateDocument()
	require.NoError(t, err)
	cols := []bitfunnelpb.DocIndex{col0}
	for i := bitfunnelpb.DocIndex(1); i < s.Capacity(); i++ {
		sl, col, allocErr := sh.AllocateDocument()
		require.NoError(t, allocErr)
		require.Same(t, s, sl)
		cols = append(cols, col)
	}
	for _, col := range cols {
		s.CommitDocument(col)
		s.ExpireDocument(col)
	}
	return s
}

func TestFillRecycleEveryBlockThenIngestAgain(t *testing.T) {
	const blockCount = 4
	sh, allocator := newTestShard(t, blockCount)

	for round := 0; round < blockCount; round++ {
		s := fillAndExpireSlice(t, sh)
		sh.RecycleSlice(s)
	}
	require.Eventually(t, func() bool {
		return allocator.InUseCount() == 0
	}, testEventuallyTimeout, testEventuallyTick)

	// Every block is back in the pool; a full slice worth of documents
	// can be ingested again.
	s := fillAndExpireSlice(t, sh)
	require.True(t, s.FullyExpired())
}

func TestTokenProtectsBufferSnapshotAcrossSwap(t *testing.T) {
	sh, allocator := newTestShard(t, 2)

	s := fillAndExpireSlice(t, sh)

	tok := sh.Tokens().RequestToken()
	snapshot := sh.GetSliceBuffers()
	require.Len(t, snapshot, 1)

	sh.RecycleSlice(s)
	require.Empty(t, sh.GetSliceBuffers())

	// The reader's snapshot must stay dereferenceable: the buffer is
	// not returned to the allocator while the token is outstanding.
	rd, ok := s.RowTable(0)
	require.True(t, ok)
	require.Equal(t, 1, rd.GetBit(snapshot[0], 1, 0)) // match-all row
	require.Never(t, func() bool {
		return allocator.InUseCount() == 0
	}, 50*time.Millisecond, testEventuallyTick)

	tok.Release()
	require.Eventually(t, func() bool {
		return allocator.InUseCount() == 0
	}, testEventuallyTimeout, testEventuallyTick)
}

func TestRecycleSliceOnNonExpiredPanics(t *testing.T) {
	sh, _ := newTestShard(t, 2)
	s, _, err := sh.AllocateDocument()
	require.NoError(t, err)
	require.Panics(t, func() { sh.RecycleSlice(s) })
}

func TestShardRouting(t *testing.T) {
	def := NewDefinition([]int{1000, 2000, 1 << 30})
	require.Equal(t, bitfunnelpb.ShardId(0), def.Route(500))
	require.Equal(t, bitfunnelpb.ShardId(1), def.Route(1500))
	require.Equal(t, bitfunnelpb.ShardId(2), def.Route(5000))
}
