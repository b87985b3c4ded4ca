// Package doctable implements the per-document side of a slice buffer:
// the document id and the fixed/variable blobs a host attaches to each
// column.
//
// Variable blobs are the one place the column store needs heap-owned
// memory outside the slice buffer. The payload lives in an ordinary Go
// slice threaded alongside the raw buffer; only a length descriptor is
// stored inside the buffer itself, so the buffer never holds owning
// pointers the garbage collector cannot see.
package doctable

// Schema describes the blobs attached to every document: a list of
// fixed-size blobs (by byte count) and a count of variable-size blobs.
type Schema struct {
	FixedBlobSizes    []uint32
	VariableBlobCount int
}

const (
	docIdBytes      = 8
	varDescBytes    = 4 // one uint32 length descriptor per variable blob
	recordAlignment = 8
)

func align(n, a uint32) uint32 { return (n + a - 1) &^ (a - 1) }

// recordLayout is the byte layout of one document's fixed-size record
// within the slice buffer.
type recordLayout struct {
	docIdOffset   uint32
	varDescOffset uint32
	fixedOffsets  []uint32
	recordSize    uint32
}

func layoutFor(schema Schema) recordLayout {
	l := recordLayout{docIdOffset: 0}
	off := uint32(docIdBytes)
	l.varDescOffset = off
	off += uint32(schema.VariableBlobCount) * varDescBytes
	l.fixedOffsets = make([]uint32, len(schema.FixedBlobSizes))
	for i, size := range schema.FixedBlobSizes {
		l.fixedOffsets[i] = off
		off += size
	}
	l.recordSize = align(off, recordAlignment)
	return l
}

