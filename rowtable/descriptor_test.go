package rowtable

import (
	"math/rand"
	"testing"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/stretchr/testify/require"
)

func TestBytesInRowAlignment(t *testing.T) {
	const maxRank = bitfunnelpb.Rank(3)
	for _, capacity := range []bitfunnelpb.DocIndex{1, 63, 64, 65, 1000, 4096} {
		for rank := bitfunnelpb.Rank(0); rank <= maxRank; rank++ {
			bytes := BytesInRow(capacity, rank, maxRank)
			require.Zero(t, bytes%ByteAlignment, "rank=%d capacity=%d bytes=%d", rank, capacity, bytes)
		}
	}
}

func TestSetGetClearBit(t *testing.T) {
	const capacity = bitfunnelpb.DocIndex(256)
	const maxRank = bitfunnelpb.Rank(0)
	d := NewDescriptor(capacity, 4, 0, maxRank, 0)
	buf := make([]byte, d.TableBytes())

	rnd := rand.New(rand.NewSource(2))
	type bitKey struct {
		row    bitfunnelpb.RowIndex
		column bitfunnelpb.DocIndex
	}
	set := map[bitKey]bool{}
	for i := 0; i < 500; i++ {
		row := bitfunnelpb.RowIndex(rnd.Intn(4))
		col := bitfunnelpb.DocIndex(rnd.Intn(int(capacity)))
		d.SetBit(buf, row, col)
		set[bitKey{row, col}] = true
	}
	for k := range set {
		require.Equal(t, 1, d.GetBit(buf, k.row, k.column))
	}
	// Clear half, verify others untouched.
	i := 0
	for k := range set {
		if i%2 == 0 {
			d.ClearBit(buf, k.row, k.column)
			delete(set, k)
		}
		i++
	}
	for row := bitfunnelpb.RowIndex(0); row < 4; row++ {
		for col := bitfunnelpb.DocIndex(0); col < capacity; col++ {
			want := 0
			if set[bitKey{row, col}] {
				want = 1
			}
			require.Equal(t, want, d.GetBit(buf, row, col), "row=%d col=%d", row, col)
		}
	}
}

func TestHigherRankColumnMapsToSingleBit(t *testing.T) {
	const capacity = bitfunnelpb.DocIndex(256)
	const rank = bitfunnelpb.Rank(2) // 1 stored bit per 4 rank-0 columns
	const maxRank = bitfunnelpb.Rank(2)
	d := NewDescriptor(capacity, 1, rank, maxRank, 0)
	buf := make([]byte, d.TableBytes())

	d.SetBit(buf, 0, 4) // rank-0 column 4 -> stored bit 1
	for col := bitfunnelpb.DocIndex(4); col < 8; col++ {
		require.Equal(t, 1, d.GetBit(buf, 0, col), "col=%d", col)
	}
	require.Equal(t, 0, d.GetBit(buf, 0, 0))
	require.Equal(t, 0, d.GetBit(buf, 0, 8))
}

func TestInitializeMatchAllRow(t *testing.T) {
	const capacity = bitfunnelpb.DocIndex(128)
	d := NewDescriptor(capacity, 3, 0, 0, 0)
	buf := make([]byte, d.TableBytes())
	for i := range buf {
		buf[i] = 0xAA // poison so we can see Initialize actually zeroes it
	}
	const matchAllRow = bitfunnelpb.RowIndex(1)
	d.Initialize(buf, matchAllRow)

	for row := bitfunnelpb.RowIndex(0); row < 3; row++ {
		for col := bitfunnelpb.DocIndex(0); col < capacity; col++ {
			want := 0
			if row == matchAllRow {
				want = 1
			}
			require.Equal(t, want, d.GetBit(buf, row, col))
		}
	}
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	d := NewDescriptor(64, 2, 0, 0, 0)
	buf := make([]byte, d.TableBytes())
	require.Panics(t, func() { d.GetBit(buf, 5, 0) })
	require.Panics(t, func() { d.GetBit(buf, 0, 1000) })
}
