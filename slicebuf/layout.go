// Package slicebuf implements the Slice: the unit of column-store
// buffer lifetime that glues a doc table and one row table per rank
// into a single contiguous buffer, plus the column allocation state
// machine that governs it.
package slicebuf

import (
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/rowtable"
)

// trailerBytes is the size of the trailing back-pointer word. The word
// stores a slice id resolved through a registry, not a raw pointer: a
// []byte cannot safely hold a pointer the garbage collector never
// scans. See registry.go.
const trailerBytes = 8

// RankRowCount reports, for one rank, how many rows its row table
// should hold. Built from termtable.TermTable.GetTotalRowCount for
// every rank the term table actually uses.
type RankRowCount struct {
	Rank     bitfunnelpb.Rank
	RowCount bitfunnelpb.RowIndex
}

// Layout is the fixed byte geometry shared by every slice in a shard:
// doc table first, then one row table per populated rank in ascending
// rank order, then the trailer.
type Layout struct {
	Capacity bitfunnelpb.DocIndex
	MaxRank  bitfunnelpb.Rank

	doc  doctable.Descriptor
	rows []rowtable.Descriptor // indexed by position, not by rank; see RowTable

	rankIndex map[bitfunnelpb.Rank]int
	totalSize uint32
}

// NewLayout builds the Layout for capacity rank-0 columns, a doc table
// schema, and the row counts produced by a sealed term table.
func NewLayout(schema doctable.Schema, capacity bitfunnelpb.DocIndex, maxRank bitfunnelpb.Rank, rankCounts []RankRowCount) Layout {
	doc := doctable.NewDescriptor(schema, capacity, 0)
	off := doc.TableBytes()

	l := Layout{
		Capacity:  capacity,
		MaxRank:   maxRank,
		doc:       doc,
		rankIndex: make(map[bitfunnelpb.Rank]int, len(rankCounts)),
	}
	for _, rc := range rankCounts {
		if rc.RowCount == 0 {
			continue
		}
		off = rowtable.Align(off, rowtable.ByteAlignment)
		rd := rowtable.NewDescriptor(capacity, rc.RowCount, rc.Rank, maxRank, off)
		l.rankIndex[rc.Rank] = len(l.rows)
		l.rows = append(l.rows, rd)
		off += rd.TableBytes()
	}
	off = rowtable.Align(off, rowtable.ByteAlignment)
	l.totalSize = off + trailerBytes
	return l
}

// DocTable returns the doc table descriptor for this layout.
func (l Layout) DocTable() doctable.Descriptor { return l.doc }

// RowTable returns the row table descriptor for rank, and whether that
// rank has any rows at all in this layout.
func (l Layout) RowTable(rank bitfunnelpb.Rank) (rowtable.Descriptor, bool) {
	i, ok := l.rankIndex[rank]
	if !ok {
		return rowtable.Descriptor{}, false
	}
	return l.rows[i], true
}

// BufferBytes returns the total slice buffer size this layout requires,
// including the trailer.
func (l Layout) BufferBytes() uint32 { return l.totalSize }

func (l Layout) trailerOffset() uint32 { return l.totalSize - trailerBytes }

// CapacityForBufferSize returns the largest rank-0 column count whose
// layout (doc table + row tables + trailer) fits within bufferBytes:
// the inverse of the layout computation, used to size slices from a
// fixed allocator block. Capacity is searched in column-quantum steps
// so every rank's row stays a whole number of machine words.
func CapacityForBufferSize(schema doctable.Schema, bufferBytes uint32, maxRank bitfunnelpb.Rank, rankCounts []RankRowCount) bitfunnelpb.DocIndex {
	quantum := uint32(rowtable.ColumnQuantum(maxRank))
	var best bitfunnelpb.DocIndex
	for capacity := quantum; ; capacity += quantum {
		l := NewLayout(schema, bitfunnelpb.DocIndex(capacity), maxRank, rankCounts)
		if l.BufferBytes() > bufferBytes {
			break
		}
		best = bitfunnelpb.DocIndex(capacity)
	}
	return best
}
