package rowtable

import (
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/log"
)

// Descriptor is a stateless accessor for one rank's row table within a
// slice buffer. Many slices share one Descriptor; all buffer-mutating
// state lives in the byte slice passed to each call.
type Descriptor struct {
	capacity bitfunnelpb.DocIndex
	rowCount bitfunnelpb.RowIndex
	rank     bitfunnelpb.Rank
	maxRank  bitfunnelpb.Rank
	offset   uint32 // byte offset of this rank's row table within the slice buffer
	rowBytes uint32 // BytesInRow(capacity, rank, maxRank), cached
}

// NewDescriptor builds a Descriptor for rowCount rows of the given rank,
// sized for capacity rank-0 columns, laid out at offset bytes into the
// slice buffer.
func NewDescriptor(capacity bitfunnelpb.DocIndex, rowCount bitfunnelpb.RowIndex, rank, maxRank bitfunnelpb.Rank, offset uint32) Descriptor {
	return Descriptor{
		capacity: capacity,
		rowCount: rowCount,
		rank:     rank,
		maxRank:  maxRank,
		offset:   offset,
		rowBytes: BytesInRow(capacity, rank, maxRank),
	}
}

// Rank returns the rank this descriptor addresses.
func (d Descriptor) Rank() bitfunnelpb.Rank { return d.rank }

// RowCount returns the number of rows in this rank's row table.
func (d Descriptor) RowCount() bitfunnelpb.RowIndex { return d.rowCount }

// BytesPerRow returns the byte length of a single row.
func (d Descriptor) BytesPerRow() uint32 { return d.rowBytes }

// TableBytes returns the total byte size of this rank's row table.
func (d Descriptor) TableBytes() uint32 { return d.rowBytes * uint32(d.rowCount) }

// RowOffset returns the byte offset of row, measured from the start of the
// slice buffer (i.e. including d.offset).
func (d Descriptor) RowOffset(row bitfunnelpb.RowIndex) uint32 {
	d.checkRow(row)
	return d.offset + uint32(row)*d.rowBytes
}

func (d Descriptor) checkRow(row bitfunnelpb.RowIndex) {
	if row >= d.rowCount {
		log.Panicf("rowtable: row %d out of range [0,%d)", row, d.rowCount)
	}
}

func (d Descriptor) checkColumn(column bitfunnelpb.DocIndex) {
	if column >= d.capacity {
		log.Panicf("rowtable: column %d out of range [0,%d)", column, d.capacity)
	}
}

// bitAddr translates (row, column) into a byte offset (from the start of
// the slice buffer) and a bit-in-byte index, assuming little-endian
// packed bytes. column is in rank-0 column space; at rank>0 one stored
// bit represents 2^rank consecutive rank-0 columns, so the column is
// shifted right by rank before addressing.
func (d Descriptor) bitAddr(row bitfunnelpb.RowIndex, column bitfunnelpb.DocIndex) (byteOffset uint32, bitIndex uint32) {
	storedCol := uint32(column) >> d.rank
	byteOffset = d.RowOffset(row) + storedCol/8
	bitIndex = storedCol % 8
	return
}

// GetBit returns the bit at (row, column), 0 or 1. column is counted in
// rank-0 column space.
func (d Descriptor) GetBit(buf []byte, row bitfunnelpb.RowIndex, column bitfunnelpb.DocIndex) int {
	d.checkColumn(column)
	byteOffset, bitIndex := d.bitAddr(row, column)
	return int(buf[byteOffset]>>bitIndex) & 1
}

// SetBit sets the bit at (row, column) to 1.
func (d Descriptor) SetBit(buf []byte, row bitfunnelpb.RowIndex, column bitfunnelpb.DocIndex) {
	d.checkColumn(column)
	byteOffset, bitIndex := d.bitAddr(row, column)
	buf[byteOffset] |= 1 << bitIndex
}

// ClearBit clears the bit at (row, column) to 0.
func (d Descriptor) ClearBit(buf []byte, row bitfunnelpb.RowIndex, column bitfunnelpb.DocIndex) {
	d.checkColumn(column)
	byteOffset, bitIndex := d.bitAddr(row, column)
	buf[byteOffset] &^= 1 << bitIndex
}

// Initialize zeroes this rank's row table region of buf. When this
// descriptor addresses rank 0, it additionally sets every bit of
// matchAllRow to 1 across the full capacity, so the match-all row
// matches every column of every live slice.
func (d Descriptor) Initialize(buf []byte, matchAllRow bitfunnelpb.RowIndex) {
	region := buf[d.offset : d.offset+d.TableBytes()]
	for i := range region {
		region[i] = 0
	}
	if d.rank != 0 {
		return
	}
	d.checkRow(matchAllRow)
	rowStart := d.RowOffset(matchAllRow) - d.offset
	row := region[rowStart : rowStart+d.rowBytes]
	for i := range row {
		row[i] = 0xFF
	}
}
