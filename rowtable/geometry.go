// Package rowtable implements row geometry and the row-table descriptor:
// the bit-vector storage underneath every row of the column store.
//
// A row table is a dense, row-major bit matrix stored at a fixed offset
// inside a slice buffer.
package rowtable

import (
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/simd"
)

// ByteAlignment is the alignment, in bytes, every row and every row
// table region is padded to.
const ByteAlignment = 8

// bitsPerByte is spelled out for clarity at call sites that mix byte and
// bit counts.
const bitsPerByte = 8

// wordBits is the number of bits in the machine word simd operates on;
// it sizes the cross-rank column quantum: a rank-0 row must be padded out
// to a whole number of machine words, not just a whole number of bytes.
var wordBits = simd.BitsPerWord

// Align rounds addr up to the next multiple of alignment, which must be a
// power of two.
func Align(addr, alignment uint32) uint32 {
	return (addr + alignment - 1) &^ (alignment - 1)
}

// ColumnQuantum returns the number of rank-0 columns that a row table must
// be sized in multiples of so that every rank up to maxRank produces a
// whole number of machine words: wordBits*2^maxRank rank-0 columns.
func ColumnQuantum(maxRank bitfunnelpb.Rank) bitfunnelpb.DocIndex {
	return bitfunnelpb.DocIndex(wordBits) << maxRank
}

// DocumentsInRank0Row rounds capacity up to the cross-rank quantum so that
// every rank's row table is a whole number of 8-byte words.
func DocumentsInRank0Row(capacity bitfunnelpb.DocIndex, maxRank bitfunnelpb.Rank) bitfunnelpb.DocIndex {
	q := uint32(ColumnQuantum(maxRank))
	return bitfunnelpb.DocIndex(Align(uint32(capacity), q))
}

// BytesInRow returns the byte length of a single row at the given rank,
// sized to hold at least capacity rank-0 columns. All ranks up to maxRank
// line up at the same column granularity so row tables can share an
// offset scheme.
func BytesInRow(capacity bitfunnelpb.DocIndex, rank, maxRank bitfunnelpb.Rank) uint32 {
	padded := uint32(DocumentsInRank0Row(capacity, maxRank))
	return padded / (bitsPerByte << rank)
}

// RowTableBytes returns the total byte size of a rank's row table: one row
// of BytesInRow(capacity,rank,maxRank) bytes per row, rowCount rows.
func RowTableBytes(capacity bitfunnelpb.DocIndex, rank, maxRank bitfunnelpb.Rank, rowCount bitfunnelpb.RowIndex) uint32 {
	return BytesInRow(capacity, rank, maxRank) * uint32(rowCount)
}
